package broker

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// PollInterval is the default delay between two attempts of a polling wait.
const PollInterval = 50 * time.Millisecond

// Poll calls attempt every interval until it reports done, returns an error,
// timeout elapses or ctx ends.
//
// On expiry Poll returns ErrTimeout, never before timeout has elapsed and at
// most one interval (plus the duration of the last attempt) after it. A
// timeout <= 0 polls until ctx ends.
func Poll(ctx context.Context, timeout, interval time.Duration, attempt func() (bool, error)) error {
	if interval <= 0 {
		interval = PollInterval
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		done, err := attempt()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errors.Wrapf(ErrTimeout, "gave up after %s", timeout)
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ContextError(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ContextError(ctx)
	}
}

// ContextError translates the state of ctx into the broker error taxonomy.
//
// An expired deadline is a timeout; cancellation is returned as is so that
// callers can tell a stop request apart from a queue condition.
func ContextError(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return errors.Wrap(ErrTimeout, "context deadline exceeded")
	default:
		return errors.WithStack(ctx.Err())
	}
}
