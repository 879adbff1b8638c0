// Package retry centralizes the bounded-backoff policy used across the
// engine: pipeline stage calls, gateway requests, and compare-and-swap
// loops on the session store all retry through the same primitive rather
// than growing ad-hoc loops at each call site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// ErrExhausted wraps the last attempt's error once the attempt budget is
// spent. Use errors.Is to detect it.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is a bounded exponential backoff shape.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero or negative means a single attempt.
	MaxAttempts int

	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between retries.
	Max time.Duration

	// Multiplier grows the delay after each retry. Values below 1 are
	// treated as 2.
	Multiplier float64
}

// Default is the policy applied when callers pass a zero Policy:
// 3 attempts, 200ms initial delay, 5s cap, doubling.
var Default = Policy{
	MaxAttempts: 3,
	Initial:     200 * time.Millisecond,
	Max:         5 * time.Second,
	Multiplier:  2,
}

// Conflict is the policy for optimistic-concurrency retries on the
// session store: more attempts, tighter pauses.
var Conflict = Policy{
	MaxAttempts: 5,
	Initial:     50 * time.Millisecond,
	Max:         time.Second,
	Multiplier:  2,
}

func (p Policy) normalized() Policy {
	if p == (Policy{}) {
		p = Default
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Permanent wraps err to tell Do that retrying cannot help. Do stops
// immediately and returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Do runs fn until it succeeds, the policy's attempt budget is spent, fn
// returns a Permanent error, or ctx is done. The pause between attempts
// follows the policy's exponential backoff with jitter.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()
	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: p.Multiplier,
	}

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		var perm permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, last)
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return err
		}
	}
}
