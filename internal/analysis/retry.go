package analysis

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

// Backoff is the retry budget for one failure class. MaxAttempts counts
// every call that failed with the class, including the first.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Delay returns a full-jitter delay for the n-th failure (1-based):
// a uniform value in [0, min(Max, Base*Multiplier^(n-1))].
func (b Backoff) Delay(n int) time.Duration {
	ceiling := b.ceiling(n)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func (b Backoff) ceiling(n int) time.Duration {
	if b.Base <= 0 || n < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Base) * math.Pow(mult, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// RetryPolicy holds a budget per retryable failure class.
type RetryPolicy struct {
	RateLimited Backoff
	Transient   Backoff
	Request     Backoff
	Malformed   Backoff
}

// DefaultRetryPolicy returns the production budgets: rate limits back off
// longest, request and schema errors get a single retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimited: Backoff{MaxAttempts: 5, Base: 2 * time.Second, Max: 30 * time.Second, Multiplier: 2},
		Transient:   Backoff{MaxAttempts: 3, Base: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2},
		Request:     Backoff{MaxAttempts: 2, Base: 250 * time.Millisecond, Max: time.Second, Multiplier: 2},
		Malformed:   Backoff{MaxAttempts: 2, Base: 250 * time.Millisecond, Max: time.Second, Multiplier: 2},
	}
}

// For returns the budget for a failure class; false means do not retry.
func (p RetryPolicy) For(class llm.FailureClass) (Backoff, bool) {
	switch class {
	case llm.FailureRateLimited:
		return p.RateLimited, true
	case llm.FailureTransient:
		return p.Transient, true
	case llm.FailureRequest:
		return p.Request, true
	case llm.FailureMalformed:
		return p.Malformed, true
	default:
		return Backoff{}, false
	}
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// retry runs fn until it succeeds, the failure class exhausts its budget,
// or ctx is done. It returns the number of calls made and the last error.
func (p RetryPolicy) retry(ctx context.Context, stage string, sleep sleepFunc, fn func(context.Context) error) (int, error) {
	if sleep == nil {
		sleep = sleepContext
	}
	failures := make(map[llm.FailureClass]int)
	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, err
		}

		class := llm.Classify(err)
		budget, ok := p.For(class)
		failures[class]++
		if !ok || failures[class] >= budget.MaxAttempts {
			return attempts, err
		}

		delay := budget.Delay(failures[class])
		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
			delay = statusErr.RetryAfter
			if budget.Max > 0 && delay > budget.Max {
				delay = budget.Max
			}
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"stage":   stage,
			"class":   class.String(),
			"attempt": attempts,
			"delay":   delay.String(),
		}).Warn("stage call failed; retrying")

		if err := sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
