package llm

import (
	"context"
	"encoding/json"
)

// Backend issues structured (JSON-only) completions against a model.
type Backend interface {
	CompleteStructured(ctx context.Context, prompt, model string, opts Options) (Completion, error)
}

// Options tunes a single completion request.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
	JSONOnly    bool
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Completion is the JSON payload extracted from a model response.
type Completion struct {
	Raw   json.RawMessage
	Model string
	Usage Usage
}
