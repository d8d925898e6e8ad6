package session

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the Provider
type Option func(*Provider)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics sink. Nil is ignored.
func WithMetrics(m Metrics) Option {
	return func(p *Provider) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock overrides the time source used for lock timestamps and ages.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithItemsCodec replaces the body codec.
func WithItemsCodec(codec ItemsCodec) Option {
	return func(p *Provider) {
		if codec != nil {
			p.codec = codec
		}
	}
}

// WithTransientRetry replaces the retry policy for transient store failures.
func WithTransientRetry(policy RetryPolicy) Option {
	return func(p *Provider) {
		p.transientRetry = policy
	}
}

// WithConflictRetry replaces the retry policy for CAS conflicts.
func WithConflictRetry(policy RetryPolicy) Option {
	return func(p *Provider) {
		p.conflictRetry = policy
	}
}
