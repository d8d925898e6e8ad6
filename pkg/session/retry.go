package session

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/logger"
)

// RetryPolicy bounds a retry loop. Attempts counts the first try.
type RetryPolicy struct {
	Attempts int
	// Delay returns the wait before retry n (starting at 1). Nil means no wait.
	Delay func(n int) time.Duration
}

var (
	// TransientRetry retries store calls that failed with kv.ErrTransient.
	TransientRetry = RetryPolicy{Attempts: 11, Delay: FixedDelay(3 * time.Second)}

	// ConflictRetry re-reads and retries writes that lost a CAS race.
	ConflictRetry = RetryPolicy{Attempts: 20}
)

// FixedDelay waits d before every retry.
func FixedDelay(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

func (p RetryPolicy) backoff() retry.Backoff {
	n := 0
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		if p.Delay == nil {
			return 0, false
		}
		return max(p.Delay(n), 0), false
	})
	return retry.WithMaxRetries(uint64(max(p.Attempts, 1)-1), next)
}

const (
	retryTransient = "transient"
	retryConflict  = "conflict"
)

// transient runs fn until it returns something other than kv.ErrTransient or
// the transient budget is spent.
func transient[T any](ctx context.Context, p *Provider, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	v, err := retry.DoValue(ctx, p.transientRetry.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		v, err := fn(ctx)
		if kv.IsTransient(err) {
			p.metrics.ObserveRetry(op, retryTransient)
			p.log.DebugContext(ctx, "transient store failure",
				logger.Operation(op),
				logger.RetryCount(attempt),
				logger.Error(err),
			)
			return v, retry.RetryableError(err)
		}
		return v, err
	})
	if kv.IsTransient(err) {
		p.log.ErrorContext(ctx, "transient retry budget exhausted",
			logger.Operation(op),
			logger.RetryCount(attempt),
			logger.Error(err),
		)
		return v, errors.Join(ErrRetryExhausted, err)
	}
	return v, err
}

// withConflicts reruns fn, which must re-read before writing, while it
// reports kv.ErrVersionConflict.
func (p *Provider) withConflicts(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, p.conflictRetry.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, kv.ErrVersionConflict) {
			p.metrics.ObserveRetry(op, retryConflict)
			p.log.DebugContext(ctx, "version conflict",
				logger.Operation(op),
				logger.RetryCount(attempt),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, kv.ErrVersionConflict) {
		p.log.ErrorContext(ctx, "conflict retry budget exhausted",
			logger.Operation(op),
			logger.RetryCount(attempt),
		)
		return errors.Join(ErrRetryExhausted, err)
	}
	return err
}
