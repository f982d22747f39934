package llm

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// retryPolicy controls the backoff loop around one adapter call.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
	}
}

// backoff returns the delay before the given retry attempt with jitter, so
// concurrent agents do not hammer a recovering endpoint in lockstep.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseDelay << attempt
	if d > p.maxDelay {
		d = p.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	return d/2 + jitter
}

// withRetry runs fn, retrying transient failures with exponential backoff.
func withRetry(ctx context.Context, policy retryPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt < policy.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt == policy.maxAttempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.backoff(attempt)):
		}
	}
	return err
}

// isRetryable classifies transient provider failures: rate limits, 5xx,
// timeouts, and connection faults. Auth and validation errors are permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
