package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PlainErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedReturnsUnwrapped(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})
	assert.Equal(t, errFlaky, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	calls := 0
	err := fast(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIfAndOnRetry(t *testing.T) {
	var attempts []int
	err := fast(
		WithMaxAttempts(3),
		WithRetryIf(func(err error) bool { return errors.Is(err, errFlaky) }),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }),
	).Do(context.Background(), func(context.Context) error { return errFlaky })

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_CancelDuringBackoffKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(WithInitialDelay(time.Hour), WithJitter(0))

	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return Retryable(errFlaky)
	})
	assert.Equal(t, errFlaky, err)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fast(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errFlaky)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDelay(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond), WithMultiplier(2), WithJitter(0))
	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(4))

	j := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.5))
	for i := 0; i < 20; i++ {
		d := j.delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestOptionsIgnoreInvalidValues(t *testing.T) {
	r := New(WithMaxAttempts(0), WithMultiplier(0.5), WithJitter(2), WithMaxDelay(-1))
	def := DefaultConfig()
	assert.Equal(t, def.MaxAttempts, r.config.MaxAttempts)
	assert.Equal(t, def.Multiplier, r.config.Multiplier)
	assert.Equal(t, def.JitterFactor, r.config.JitterFactor)
	assert.Equal(t, def.MaxDelay, r.config.MaxDelay)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 4, StoreRetrier().config.MaxAttempts)
	assert.Equal(t, 8, ContentionRetrier().config.MaxAttempts)
	assert.Equal(t, 2, CollaboratorRetrier().config.MaxAttempts)
	assert.Equal(t, 1, StoreRetrier(WithMaxAttempts(1)).config.MaxAttempts)
}

func TestMarkersNil(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errFlaky)))
}
