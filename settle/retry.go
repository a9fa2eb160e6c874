package settle

import (
	"context"
	"errors"
	"time"

	"github.com/vctt94/betvault/vault"
)

// Policy is a reusable retry policy: bounded attempts with exponential
// backoff between them. The retryable predicate decides which errors are
// worth another attempt; everything else short-circuits without consuming
// the remaining budget.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultPolicy retries three times with 1s, 2s, 4s... backoff capped at
// 30s, skipping errors that retrying cannot fix.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   Retryable,
	}
}

// Retryable reports whether another attempt can help. Configuration and
// resource errors are final: a missing vault key or an underfunded vault
// does not heal with time. ErrFragmented is the one resource condition
// that does, because the consolidation it submitted will settle.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrMissingConfig),
		errors.Is(err, vault.ErrEmptyVault),
		errors.Is(err, vault.ErrInsufficientFunds):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Do runs fn until it succeeds, a non-retryable error occurs, or the
// attempt budget runs out. Each attempt is independent: fn must re-fetch
// whatever state it reads rather than reuse a stale snapshot.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.BaseDelay
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.MaxDelay > 0 && backoff > p.MaxDelay {
				backoff = p.MaxDelay
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}
