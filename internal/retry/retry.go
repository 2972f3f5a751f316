// Package retry provides exponential-backoff retry for rate-limited
// upstream calls.
package retry

import (
	"context"
	"strings"
	"time"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Warn(msg string, args ...interface{})
}

const (
	// DefaultMaxAttempts is the total number of invocations, including the
	// first one.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry; it doubles on
	// each subsequent retry.
	DefaultBaseDelay = time.Second
)

// rateLimitSignatures are matched case-insensitively against error text.
// Upstream failures can arrive as plain errors rather than HTTP responses,
// so this is a heuristic over the message, not a status-code check.
var rateLimitSignatures = []string{"429", "rate limit", "resource_exhausted"}

// IsRateLimited reports whether err looks like an upstream rate-limit error.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Policy executes work with retries on rate-limited errors. The zero value
// is not usable; construct with NewPolicy.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      Logger

	// after is swapped out in tests to avoid real sleeps.
	after func(time.Duration) <-chan time.Time
}

// NewPolicy creates a Policy. Non-positive maxAttempts or baseDelay fall
// back to the defaults.
func NewPolicy(maxAttempts int, baseDelay time.Duration, logger Logger) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Policy{maxAttempts: maxAttempts, baseDelay: baseDelay, logger: logger, after: time.After}
}

// Do runs op, retrying on rate-limited errors with exponential backoff.
// Any other error propagates immediately; when retries are exhausted the
// last error propagates. Waits are interruptible by ctx.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRateLimited(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := p.baseDelay * time.Duration(1<<uint(attempt-1))
		p.logger.Warn("Retrying in %dms... (Attempt %d/%d)", delay.Milliseconds(), attempt, p.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.after(delay):
		}
	}
	return lastErr
}
