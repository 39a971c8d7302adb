// Package retry runs external calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy bounds how often and how quickly a failing call is retried.
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	// Jitter is the fraction of the delay added or subtracted at random, e.g. 0.2 for +-20%.
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used when configuration leaves retry unset.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// Normalize fills zero fields from DefaultPolicy.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based), before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	return time.Duration(backoff)
}

func (p Policy) jittered(attempt int) time.Duration {
	backoff := float64(p.Backoff(attempt))
	backoff += backoff * p.Jitter * (2*rand.Float64() - 1)
	return time.Duration(backoff)
}

// IsTemporary reports whether err, or any error it wraps, declares itself temporary.
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

type options struct {
	retryable func(error) bool
	logger    *zap.Logger
	op        string
}

// Option configures a single Do call.
type Option func(*options)

// If overrides the retryable check (IsTemporary by default).
func If(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithLogger logs each retry at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Named labels log lines with the operation being retried.
func Named(op string) Option {
	return func(o *options) { o.op = op }
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy's attempts are
// exhausted or ctx is done. The last error is wrapped so errors.Is and errors.As still see it.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, opts ...Option) error {
	o := options{retryable: IsTemporary}
	for _, opt := range opts {
		opt(&o)
	}
	p = p.Normalize()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.jittered(attempt - 1)
			if o.logger != nil {
				o.logger.Warn("retrying external call",
					zap.String("op", o.op),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(lastErr))
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !o.retryable(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
