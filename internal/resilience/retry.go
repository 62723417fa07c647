package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// Backoff strategies understood by ComputeBackoff.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy configures how a collaborator call is retried.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" koanf:"max_attempts"`
	Backoff     string        `json:"backoff" koanf:"backoff"`
	Delay       time.Duration `json:"delay" koanf:"delay"`
	MaxDelay    time.Duration `json:"max_delay" koanf:"max_delay"`
}

// DefaultRetryPolicy retries twice with exponential backoff from 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     BackoffExponential,
		Delay:       500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// IsRetryableError classifies whether an error should be retried.
// Network errors, timeouts and retryable FlowError codes are retried.
// Cancellation and every other FlowError code are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return schema.IsRetryable(fe)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// ComputeBackoff returns the delay before retry number attempt (0-based),
// capped at MaxDelay when set.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay << attempt
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && (delay > policy.MaxDelay || delay <= 0) {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with ctx.Err().
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. The final error is wrapped as
// RETRY_EXHAUSTED when every attempt failed with a retryable error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := WaitForBackoff(ctx, ComputeBackoff(policy, attempt-1)); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"gave up after %d attempts: %s", attempts, lastErr.Error()).
		WithCause(lastErr).
		WithDetails(map[string]any{"attempts": attempts})
}
