package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vctt94/betvault/vault"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   Retryable,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky broadcast")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	boom := errors.New("still down")
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

// Fatal errors stop immediately without burning remaining attempts.
func TestDoFatalShortCircuits(t *testing.T) {
	for _, fatal := range []error{
		ErrMissingConfig,
		vault.ErrEmptyVault,
		vault.ErrInsufficientFunds,
	} {
		calls := 0
		err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
			calls++
			return fatal
		})
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls, "error %v retried", fatal)
	}
}

func TestDoContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour, Retryable: Retryable}
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryablePredicate(t *testing.T) {
	assert.True(t, Retryable(errors.New("connection refused")))
	assert.True(t, Retryable(vault.ErrFragmented))
	assert.False(t, Retryable(ErrMissingConfig))
	assert.False(t, Retryable(vault.ErrEmptyVault))
	assert.False(t, Retryable(vault.ErrInsufficientFunds))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(context.DeadlineExceeded))
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{Retryable: Retryable}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
