// Package poll provides the single blocking-wait primitive every stage of
// the rolling update goes through: observe a condition at a fixed interval
// until it holds, the bound elapses, or the context is cancelled.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Condition observes external state once. It returns done=true when the
// awaited condition holds. A non-nil error is treated as a transient
// observation failure and retried until the bound elapses, unless it is
// wrapped with Permanent.
type Condition func(ctx context.Context) (done bool, err error)

// TimeoutError reports that a wait exhausted its bound without the
// condition holding.
type TimeoutError struct {
	// What names the awaited condition, e.g. "power off".
	What string
	// Timeout is the bound that was exceeded.
	Timeout time.Duration
	// Last is the most recent observation error, if observations were
	// failing rather than merely not ready.
	Last error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("timed out after %s waiting for %s: last error: %v", e.Timeout, e.What, e.Last)
	}
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.What)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// IsTimeout reports whether err is (or wraps) a wait timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Permanent marks an observation error as non-retryable: Wait stops
// immediately and returns err instead of retrying until the bound.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// errNotReady is the internal retry signal for a clean not-yet observation.
var errNotReady = errors.New("condition not yet met")

// Wait polls cond every interval until it reports done, the timeout
// elapses, or ctx is cancelled. The first observation happens immediately,
// so a condition that already holds returns without sleeping.
//
// Returns nil on success, a *TimeoutError when the bound elapses, the
// context error (wrapped) on cancellation, and the unwrapped inner error
// when cond fails with Permanent.
func Wait(ctx context.Context, what string, interval, timeout time.Duration, cond Condition) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0,
		Multiplier:          1.0,
		MaxInterval:         interval,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var (
		lastErr   error
		permanent bool
	)
	op := func() error {
		done, err := cond(ctx)
		if err != nil {
			var pe *backoff.PermanentError
			if errors.As(err, &pe) {
				permanent = true
				return err
			}
			lastErr = err
			return err
		}
		if !done {
			return errNotReady
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("waiting for %s: %w", what, err)
	case errors.Is(err, errNotReady):
		return &TimeoutError{What: what, Timeout: timeout}
	default:
		return &TimeoutError{What: what, Timeout: timeout, Last: lastErr}
	}
}
