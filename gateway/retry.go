package gateway

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/types"
)

// RetryPolicy configures exponential backoff for gateway calls.
type RetryPolicy struct {
	MaxRetries   int           // 0 disables retrying
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// OnRetry is invoked before each retry attempt with the operation label
	// the call was issued under.
	OnRetry func(op string, attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy suits most LLM API calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryer retries a function under the policy. Only errors marked
// retryable via types.IsRetryable are attempted again.
type retryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

func newRetryer(policy *RetryPolicy, logger *zap.Logger) *retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryer{policy: policy, logger: logger}
}

// Do runs fn, retrying transient failures with exponential backoff and
// jitter until the policy is exhausted. op labels the call for the OnRetry
// hook and logs.
func (r *retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying gateway call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(op, attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("gateway call succeeded after retry",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("gateway retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay applies exponential backoff with optional ±25% jitter.
func (r *retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}
