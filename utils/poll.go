package utils

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned when the deadline passes before the
// predicate reports done. Callers map it to their own typed timeout.
var ErrPollTimeout = errors.New("poll deadline exceeded")

// PollFn checks one condition. done=true stops the poll successfully; a
// non-nil error aborts it immediately.
type PollFn func(ctx context.Context) (done bool, err error)

// Poll invokes fn immediately and then every interval until it reports
// done, returns an error, the timeout elapses, or ctx is cancelled.
// The wait is a timer select, never a busy loop, so cancellation takes
// effect between ticks.
func Poll(ctx context.Context, interval, timeout time.Duration, fn PollFn) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrPollTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
