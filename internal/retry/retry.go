// Package retry implements bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how many times, and how patiently, an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values
	// less than one are treated as one.
	Attempts int
	// Base is the delay after the first failure. Each subsequent delay doubles.
	Base time.Duration
	// Max caps any single delay, including one requested by the error.
	Max time.Duration
	// Retryable reports whether err should be retried. If nil, every error is.
	Retryable func(err error) bool
}

// delayer is implemented by errors which carry an upstream requested delay,
// eg. httpx.ResponseError from a Retry-After header.
type delayer interface {
	Delay() time.Duration
}

// Do calls fn until it succeeds, returns an error that is not retryable, the
// attempts are exhausted, or ctx is done. The last error from fn is returned,
// joined with ctx.Err() if ctx was done while waiting to retry.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.backoff(attempt, err))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(ctx.Err(), err)
			case <-t.C:
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

// backoff returns the delay before the given attempt, which is at least 1.
func (p Policy) backoff(attempt int, err error) time.Duration {
	delay := p.Base << (attempt - 1)
	var d delayer
	if errors.As(err, &d) && d.Delay() > delay {
		delay = d.Delay()
	}
	if p.Max > 0 && (delay > p.Max || delay < 0) {
		delay = p.Max
	}
	return delay
}
