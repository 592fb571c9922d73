// Package retry implements the bounded exponential-backoff policy used for
// optimistic-concurrency conflicts. The operation is re-run from scratch on
// each attempt so the caller reloads and reapplies, never re-writes stale
// data.
package retry

import (
	"context"
	"errors"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/logger"
)

const (
	// DefaultMaxAttempts bounds conflict retries.
	DefaultMaxAttempts = 3
	// DefaultInitialDelay is the first backoff delay; it doubles per attempt.
	DefaultInitialDelay = 100 * time.Millisecond
)

// Policy holds the retry parameters.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultPolicy returns the standard conflict-retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, InitialDelay: DefaultInitialDelay}
}

// OnConflict runs fn, retrying only on model.ErrConcurrencyConflict with
// exponential backoff. Any other error, or exhaustion of attempts, is
// surfaced to the caller; conflicts are never silently dropped.
func (p Policy) OnConflict(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = DefaultInitialDelay
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, model.ErrConcurrencyConflict) {
			return err
		}
		if attempt == attempts {
			break
		}
		logger.DebugCtx(ctx, "%s hit concurrency conflict, retrying (attempt %d/%d) after %v", name, attempt, attempts, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// OnConflict runs fn under the default policy.
func OnConflict(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return DefaultPolicy().OnConflict(ctx, name, fn)
}
