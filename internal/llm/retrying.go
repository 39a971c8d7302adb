package llm

import (
	"context"

	"github.com/hyperjump/kousei/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryingGenerator wraps a Generator with a rate limit and the shared retry policy.
type RetryingGenerator struct {
	next    Generator
	policy  retry.Policy
	limiter *rate.Limiter // optional
	logger  *zap.Logger   // optional
}

// RetryOption configures a RetryingGenerator.
type RetryOption func(*RetryingGenerator)

// WithRateLimit allows at most rps calls per second with the given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) RetryOption {
	return func(g *RetryingGenerator) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryLogger logs retries.
func WithRetryLogger(l *zap.Logger) RetryOption {
	return func(g *RetryingGenerator) { g.logger = l }
}

// NewRetryingGenerator decorates next.
func NewRetryingGenerator(next Generator, policy retry.Policy, opts ...RetryOption) *RetryingGenerator {
	g := &RetryingGenerator{next: next, policy: policy}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RetryingGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var out string
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		out, err = g.next.Generate(ctx, prompt)
		return err
	}, retry.Named("generate"), retry.WithLogger(g.logger))
	if err != nil {
		return "", err
	}
	return out, nil
}
