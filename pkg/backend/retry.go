package backend

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

const (
	defaultMaxAttempts = 4
	initialBackoff     = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
)

// isRetryable returns true for rate limiting, 5xx responses, and network
// faults. Auth failures and other 4xx responses are not retryable here.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *types.TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// backoffDelay returns the delay before retrying attempt (0-based):
// exponential with a cap, plus up to 25% jitter. A server-requested
// Retry-After overrides the computed delay.
func backoffDelay(attempt int, err error) time.Duration {
	var te *types.TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter
	}
	d := initialBackoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
		if d > maxBackoff {
			d = maxBackoff
		}
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// doWithRetry runs fn up to maxAttempts times, backing off between retryable
// failures. Non-retryable errors and context cancellation return immediately.
func doWithRetry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if attempt == maxAttempts-1 || !isRetryable(err) {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffDelay(attempt, err)):
		}
	}
	return zero, lastErr
}
