package reliability

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop. Retries counts extra attempts after the first.
type Policy struct {
	Retries int
	Base    time.Duration
	Cap     time.Duration
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e permanentError) Error() string        { return e.err.Error() }
func (e permanentError) Unwrap() []error      { return []error{ErrPermanent, e.err} }
func (e permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, the context is
// done, or the policy is exhausted. The wait before retry n (0-based) is
// ExponentialBackoff(n, Base, Cap). The last error is returned unwrapped.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= p.Retries {
			return err
		}

		timer := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
