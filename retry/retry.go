// Package retry runs operations with bounded attempts and exponential backoff,
// and classifies which database errors are worth retrying.
package retry

import (
	"context"
	"time"
)

// Policy bounds retries of an operation.
type Policy struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int `yaml:"max_retries" split_words:"true"`
	// BaseDelay is the wait before the second attempt; each later wait doubles it.
	BaseDelay time.Duration `yaml:"base_delay" split_words:"true"`
	// MaxDelay caps a single wait.
	MaxDelay time.Duration `yaml:"max_delay" split_words:"true"`
}

// DefaultPolicy returns 3 attempts, 100ms base delay and a 2s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Delay returns the wait after the given 0-based failed attempt:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	if d == 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Hook is called before each retry with the failed 1-based attempt, its error
// and the delay about to be slept.
type Hook func(attempt int, err error, delay time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error, the policy is
// exhausted or ctx is done. It returns the result, the number of attempts made
// and the last error. A nil classifier retries every error.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, onRetry Hook, fn func(attempt int) (T, error)) (T, int, error) {
	p = p.normalized()
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempt - 1, lastErr
			}
			return zero, attempt - 1, err
		}

		result, err := fn(attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, attempt, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt - 1)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, p.MaxRetries, lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
