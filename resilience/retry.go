package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the wait after the given failed attempt, counting from 1.
type Backoff func(attempt int) time.Duration

// Linear waits attempt*step.
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential waits initial*factor^(attempt-1), capped at maxWait, with
// up to jitter (0..1) of random spread in either direction.
func Exponential(initial, maxWait time.Duration, factor, jitter float64) Backoff {
	return func(attempt int) time.Duration {
		d := float64(initial) * math.Pow(factor, float64(attempt-1))
		if jitter > 0 {
			d += (rand.Float64()*2 - 1) * d * jitter
		}
		if d > float64(maxWait) {
			d = float64(maxWait)
		}
		if d < 0 {
			d = float64(initial)
		}
		return time.Duration(d)
	}
}

// Policy controls how often and when an operation is retried.
type Policy struct {
	// Attempts is the maximum number of calls, the first included.
	Attempts int
	// Backoff is the wait between calls.
	Backoff Backoff
	// RetryIf reports whether an error is worth another call.
	RetryIf func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy retries three times with a short exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Backoff:  Exponential(50*time.Millisecond, 2*time.Second, 2, 0.1),
		RetryIf:  DefaultRetryIf,
	}
}

// DefaultRetryIf retries all errors except context cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, the policy gives up or ctx ends. It
// returns the last error of fn, or ctx's error.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	_, err := Retry(ctx, p, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// Retry is Do for operations that produce a value.
func Retry[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = Linear(0)
	}
	if p.RetryIf == nil {
		p.RetryIf = DefaultRetryIf
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !p.RetryIf(err) || attempt == p.Attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
