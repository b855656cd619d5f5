package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

func TestBackoff_Ceiling(t *testing.T) {
	p := DefaultRetryPolicy()
	rateLimited := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, want := range rateLimited {
		assert.Equal(t, want, p.RateLimited.ceiling(i+1), "rate limited failure %d", i+1)
	}
	transient := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, want := range transient {
		assert.Equal(t, want, p.Transient.ceiling(i+1), "transient failure %d", i+1)
	}
}

func TestBackoff_DelayIsJittered(t *testing.T) {
	b := DefaultRetryPolicy().Transient
	for n := 1; n <= 5; n++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(n)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, b.ceiling(n))
		}
	}
	assert.Zero(t, Backoff{}.Delay(1))
}

func TestRetryPolicy_For(t *testing.T) {
	p := DefaultRetryPolicy()
	for class, attempts := range map[llm.FailureClass]int{
		llm.FailureRateLimited: 5,
		llm.FailureTransient:   3,
		llm.FailureRequest:     2,
		llm.FailureMalformed:   2,
	} {
		b, ok := p.For(class)
		assert.True(t, ok, class.String())
		assert.Equal(t, attempts, b.MaxAttempts, class.String())
	}
	_, ok := p.For(llm.FailureCanceled)
	assert.False(t, ok)
}

func TestRetry_StopsWhenSleepIsInterrupted(t *testing.T) {
	interrupted := errors.New("interrupted")
	calls := 0
	attempts, err := DefaultRetryPolicy().retry(context.Background(), "stage1",
		func(context.Context, time.Duration) error { return interrupted },
		func(context.Context) error {
			calls++
			return &llm.StatusError{StatusCode: 503}
		})
	assert.ErrorIs(t, err, interrupted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
