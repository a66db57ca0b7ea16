package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soltrade-core/internal/errors"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithExponentialBackoff_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoff_RetriesTransient(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return apperrors.NewRPCError("sendTransaction", errors.New("connection reset"))
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestWithExponentialBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return apperrors.NewRPCError("sendTransaction", errors.New("still down"))
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Error(t, result.LastError)
}

func TestWithExponentialBackoff_AbortsOnNonRetryable(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return apperrors.NewValidationError("bad amount")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "validation errors must not be retried")
}

func TestWithExponentialBackoff_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &Config{
		MaxAttempts:  5,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}

	done := make(chan *Result, 1)
	go func() {
		done <- WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
			return apperrors.NewRPCError("sendTransaction", errors.New("down"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.LastError, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after context cancellation")
	}
}

func TestDo_WrapsFinalError(t *testing.T) {
	err := Do(context.Background(), fastConfig(2), func(ctx context.Context, attempt int) error {
		return apperrors.NewRPCError("sendTransaction", errors.New("down"))
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRPCUnavailable))
}

func TestSettlementDelay(t *testing.T) {
	base := time.Minute
	max := 5 * time.Minute

	assert.Equal(t, time.Minute, SettlementDelay(0, base, max))
	assert.Equal(t, 2*time.Minute, SettlementDelay(1, base, max))
	assert.Equal(t, 4*time.Minute, SettlementDelay(2, base, max))
	assert.Equal(t, 5*time.Minute, SettlementDelay(3, base, max))
	assert.Equal(t, 5*time.Minute, SettlementDelay(4, base, max))
	assert.Equal(t, time.Minute, SettlementDelay(-1, base, max))
}

func TestSettlementDelayProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	base := time.Minute
	max := 5 * time.Minute

	properties.Property("delay never exceeds cap", prop.ForAll(
		func(retryCount int) bool {
			return SettlementDelay(retryCount, base, max) <= max
		},
		gen.IntRange(0, 1000),
	))

	properties.Property("delay is monotonically non-decreasing", prop.ForAll(
		func(retryCount int) bool {
			return SettlementDelay(retryCount+1, base, max) >= SettlementDelay(retryCount, base, max)
		},
		gen.IntRange(0, 100),
	))

	properties.Property("delay is at least the base", prop.ForAll(
		func(retryCount int) bool {
			return SettlementDelay(retryCount, base, max) >= base
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
