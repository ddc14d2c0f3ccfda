package flow

import (
	"errors"
	"math/rand"
	"time"
)

// retryConfig holds the retry policy applied by WithRetry.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall budget across all attempts; 0 = no limit
	retryIf     func(error) bool
}

// RetryOption configures a retried callable.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles: baseDelay, 2×baseDelay,
// 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryTimeout sets the overall budget for the entire retry sequence. If
// the total time across all attempts exceeds this duration, the loop
// gives up and returns the last error. The zero value (default) disables
// the budget.
func RetryTimeout(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.timeout = d }
}

// RetryIf replaces the default transient-error predicate.
func RetryIf(pred func(error) bool) RetryOption {
	return func(c *retryConfig) { c.retryIf = pred }
}

// isTransient is the default retry predicate: subprocess launch/exit
// failures are worth retrying, validation and cancellation errors never
// are.
func isTransient(err error) bool {
	var canceled *CanceledError
	if errors.As(err, &canceled) {
		return false
	}
	var sub *SubprocessFailedError
	return errors.As(err, &sub)
}

// WithRetry wraps fn with automatic retry on transient failures, using
// exponential backoff with jitter. Compose around any registered
// operation:
//
//	reg.Add(meta, flow.WithRetry(runIngest), true)
//	reg.Add(meta, flow.WithRetry(runIngest, flow.RetryMaxAttempts(5)), true)
func WithRetry(fn Callable, opts ...RetryOption) Callable {
	cfg := retryConfig{maxAttempts: 3, baseDelay: time.Second, retryIf: isTransient}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(ctx *ExecContext, values map[string]any) (map[string]any, error) {
		deadline := time.Time{}
		if cfg.timeout > 0 {
			deadline = time.Now().Add(cfg.timeout)
		}
		var last error
		for i := 0; i < cfg.maxAttempts; i++ {
			result, err := fn(ctx, values)
			if err == nil || !cfg.retryIf(err) {
				return result, err
			}
			last = err
			if ctx.Monitor.IsCanceled() {
				return nil, last
			}
			if i < cfg.maxAttempts-1 {
				delay := retryBackoff(cfg.baseDelay, i)
				if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
					return nil, last
				}
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Ctx.Done():
					timer.Stop()
					return nil, ctx.Ctx.Err()
				case <-timer.C:
				}
			}
		}
		return nil, last
	}
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
