package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
)

// RetryPolicy controls exponential backoff for transient provider errors.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
}

// DefaultRetryPolicy matches the pacing providers tolerate: 1s, 2s, 4s
// with jitter, capped at 60s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     60 * time.Second,
	Base:         2.0,
}

// WithRetry runs fn, retrying transient provider errors per the policy.
// Non-retryable errors return immediately.
func WithRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, provider string, fn func() error) error {
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			// jitter in [0.5, 1.5) of the nominal delay
			sleep := time.Duration(float64(delay) * (0.5 + rand.Float64()))
			if sleep > policy.MaxDelay {
				sleep = policy.MaxDelay
			}
			logger.Debug("Retrying provider call",
				zap.String("provider", provider),
				zap.Int("attempt", attempt),
				zap.Duration("sleep", sleep),
			)
			metrics.ProviderRetries.WithLabelValues(provider).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			delay = time.Duration(float64(delay) * policy.Base)
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return classifyMessage(err.Error()) != KindUnknown
}
