package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Dialect selects the request/response shape spoken by a backend.
type Dialect string

const (
	// DialectOpenAIChat is the classic chat completions shape (temperature, max_tokens).
	DialectOpenAIChat Dialect = "openai_chat"
	// DialectOpenAIReasoning is the chat completions shape used by reasoning
	// models: max_completion_tokens and no temperature.
	DialectOpenAIReasoning Dialect = "openai_reasoning"
	// DialectAnthropic is the Anthropic messages API.
	DialectAnthropic Dialect = "anthropic"
	// DialectGemini is the Google generateContent API.
	DialectGemini Dialect = "gemini"
)

const (
	defaultMaxTokens  = 4096
	anthropicVersion  = "2023-06-01"
	jsonOnlyDirective = "Respond with a single JSON object and nothing else. No markdown, no commentary."
)

// ErrUnknownDialect is returned when configuration names an unsupported dialect.
var ErrUnknownDialect = errors.New("unknown llm dialect")

// ParseDialect validates a configured dialect name.
func ParseDialect(raw string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(raw))); d {
	case DialectOpenAIChat, DialectOpenAIReasoning, DialectAnthropic, DialectGemini:
		return d, nil
	case "":
		return DialectOpenAIChat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, raw)
	}
}

// DefaultBaseURL returns the public API root for the dialect.
func (d Dialect) DefaultBaseURL() string {
	switch d {
	case DialectAnthropic:
		return "https://api.anthropic.com/v1"
	case DialectGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return "https://api.openai.com/v1"
	}
}

// wireRequest is a dialect-specific HTTP request description.
type wireRequest struct {
	path    string
	headers map[string]string
	body    any
}

func (d Dialect) buildRequest(apiKey, model, prompt string, opts Options) (wireRequest, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system := strings.TrimSpace(opts.System)
	if opts.JSONOnly && d != DialectOpenAIChat && d != DialectOpenAIReasoning {
		// Providers without a response_format switch get the constraint in the system prompt.
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyDirective)
	}

	switch d {
	case DialectOpenAIChat, DialectOpenAIReasoning:
		messages := make([]openAIMessage, 0, 2)
		if system != "" {
			messages = append(messages, openAIMessage{Role: "system", Content: system})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: prompt})
		body := openAIRequest{Model: model, Messages: messages}
		if d == DialectOpenAIChat {
			temp := opts.Temperature
			body.Temperature = &temp
			body.MaxTokens = maxTokens
		} else {
			body.MaxCompletionTokens = maxTokens
		}
		if opts.JSONOnly {
			body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
		}
		return wireRequest{
			path:    "/chat/completions",
			headers: map[string]string{"Authorization": "Bearer " + apiKey},
			body:    body,
		}, nil

	case DialectAnthropic:
		return wireRequest{
			path: "/messages",
			headers: map[string]string{
				"x-api-key":         apiKey,
				"anthropic-version": anthropicVersion,
			},
			body: anthropicRequest{
				Model:       model,
				MaxTokens:   maxTokens,
				System:      system,
				Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
				Temperature: opts.Temperature,
			},
		}, nil

	case DialectGemini:
		body := geminiRequest{
			Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
			GenerationConfig: geminiGenerationConfig{
				Temperature:     opts.Temperature,
				MaxOutputTokens: maxTokens,
			},
		}
		if system != "" {
			body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
		}
		if opts.JSONOnly {
			body.GenerationConfig.ResponseMimeType = "application/json"
		}
		return wireRequest{
			path:    "/models/" + url.PathEscape(model) + ":generateContent",
			headers: map[string]string{"x-goog-api-key": apiKey},
			body:    body,
		}, nil
	}
	return wireRequest{}, fmt.Errorf("%w: %q", ErrUnknownDialect, string(d))
}

// parseResponse extracts the text content, usage and reported model name.
func (d Dialect) parseResponse(body []byte) (string, Usage, string, error) {
	switch d {
	case DialectOpenAIChat, DialectOpenAIReasoning:
		var resp openAIResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", Usage{}, "", fmt.Errorf("decode openai response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", Usage{}, resp.Model, errors.New("openai response missing choices")
		}
		usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
		return resp.Choices[0].Message.Content, usage, resp.Model, nil

	case DialectAnthropic:
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", Usage{}, "", fmt.Errorf("decode anthropic response: %w", err)
		}
		var b strings.Builder
		for _, part := range resp.Content {
			if part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		usage := Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		return b.String(), usage, resp.Model, nil

	case DialectGemini:
		var resp geminiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", Usage{}, "", fmt.Errorf("decode gemini response: %w", err)
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", Usage{}, resp.ModelVersion, errors.New("gemini response missing candidates")
		}
		var b strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
		usage := Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
		return b.String(), usage, resp.ModelVersion, nil
	}
	return "", Usage{}, "", fmt.Errorf("%w: %q", ErrUnknownDialect, string(d))
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model               string                `json:"model"`
	Messages            []openAIMessage       `json:"messages"`
	Temperature         *float64              `json:"temperature,omitempty"`
	MaxTokens           int                   `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                   `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	ModelVersion string `json:"modelVersion"`
	Candidates   []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}
