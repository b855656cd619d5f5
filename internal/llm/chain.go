package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type fallbackChain struct {
	primary  Backend
	fallback Backend
}

// WithFallback returns a backend that first tries the primary implementation and
// falls back to the provided backend when the primary fails for any reason other
// than caller cancellation.
func WithFallback(primary, fallback Backend) Backend {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &fallbackChain{primary: primary, fallback: fallback}
}

func (c *fallbackChain) CompleteStructured(ctx context.Context, prompt, model string, opts Options) (Completion, error) {
	out, err := c.primary.CompleteStructured(ctx, prompt, model, opts)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil || Classify(err) == FailureCanceled {
		return Completion{}, err
	}
	logrus.WithError(err).WithField("model", model).Warn("primary llm backend failed; trying fallback")
	out, fbErr := c.fallback.CompleteStructured(ctx, prompt, model, opts)
	if fbErr != nil {
		return Completion{}, fmt.Errorf("fallback backend: %w", errors.Join(fbErr, err))
	}
	return out, nil
}

type pinnedModel struct {
	backend Backend
	model   string
}

// Pin returns a backend that always requests the given model, regardless of
// the model named by the caller. It lets a fallback provider serve a stage
// whose primary model name it does not recognise.
func Pin(backend Backend, model string) Backend {
	if backend == nil || model == "" {
		return backend
	}
	return &pinnedModel{backend: backend, model: model}
}

func (p *pinnedModel) CompleteStructured(ctx context.Context, prompt, _ string, opts Options) (Completion, error) {
	return p.backend.CompleteStructured(ctx, prompt, p.model, opts)
}
