// Package fsm adapts error-returning callbacks to looplab/fsm.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent turns fn into an fsm.Callback that records a returned error on
// the event, so the transition that triggered it fails with that error.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Fire triggers event on f. Firing an event that leaves the state unchanged
// is not treated as a failure.
func Fire(ctx context.Context, f *fsm.FSM, event string, args ...any) error {
	err := f.Event(ctx, event, args...)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
