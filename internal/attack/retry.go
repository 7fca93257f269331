package attack

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConnection marks a transient connection failure. Vectors wrap it so
// the default retry policy can tell it apart from definitive outcomes.
var ErrConnection = errors.New("connection failed")

// TimeoutError is recorded when a vector exceeds its time budget.
type TimeoutError struct {
	Vector string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attack: vector %s timed out after %s", e.Vector, e.After)
}

// RetryPolicy is applied by the engine around every vector run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// NoRetry runs each vector once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultRetry retries transient failures with exponential backoff.
func DefaultRetry(attempts int, base time.Duration) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     ExponentialBackoff(base, 5*time.Second),
		Retryable:   IsTransient,
	}
}

// ExponentialBackoff doubles base per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TimeoutError
	return errors.Is(err, ErrConnection) || errors.As(err, &te)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if p.Retryable == nil {
		return IsTransient(err)
	}
	return p.Retryable(err)
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return ctx.Err()
	}
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
