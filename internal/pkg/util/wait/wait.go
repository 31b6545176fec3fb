// Package wait holds the single "poll until a predicate holds or a deadline
// passes" primitive used by every blocking wait in skyrelay.
package wait

import (
	"context"
	"errors"
	"time"

	k8swait "k8s.io/apimachinery/pkg/util/wait"
)

// DefaultInterval is the polling period used by Until.
const DefaultInterval = 10 * time.Millisecond

// ErrTimeout is returned when the deadline passes before the condition holds.
var ErrTimeout = errors.New("timed out waiting for condition")

// ConditionFunc reports whether the wait is over. A non-nil error ends the
// wait early and is returned to the caller unchanged.
type ConditionFunc func() (bool, error)

// Until polls cond every DefaultInterval, checking it once immediately, until
// it returns true, returns an error, the timeout elapses or ctx is done.
// A cancelled ctx yields ctx.Err(); an elapsed timeout yields ErrTimeout.
func Until(ctx context.Context, timeout time.Duration, cond ConditionFunc) error {
	return UntilWithInterval(ctx, DefaultInterval, timeout, cond)
}

// UntilWithInterval is Until with an explicit polling period.
func UntilWithInterval(ctx context.Context, interval, timeout time.Duration, cond ConditionFunc) error {
	if timeout <= 0 {
		ok, err := cond()
		if err != nil {
			return err
		}
		if !ok {
			return ErrTimeout
		}
		return nil
	}

	var condErr error
	err := k8swait.PollUntilContextTimeout(ctx, interval, timeout, true, func(context.Context) (bool, error) {
		ok, err := cond()
		if err != nil {
			condErr = err
		}
		return ok, err
	})
	switch {
	case err == nil:
		return nil
	case condErr != nil:
		return condErr
	case ctx.Err() != nil:
		return ctx.Err()
	case k8swait.Interrupted(err):
		return ErrTimeout
	default:
		return err
	}
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
