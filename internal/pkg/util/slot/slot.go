// Package slot provides a single-slot correlation object for strictly
// sequential request/response exchanges.
package slot

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/skyrelay/internal/pkg/util/wait"
)

// Slot holds at most one value. It is reset before a request goes out,
// filled once by whoever observes the response and consumed once by the
// waiter. Values offered while the slot is already full are dropped.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
}

// Reset empties the slot, discarding any stale value.
func (s *Slot[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.value, s.full = zero, false
}

// Offer fills the slot if it is empty and reports whether v was stored.
func (s *Slot[T]) Offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.value, s.full = v, true
	return true
}

// Take consumes the value if one is present.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.value, s.full
	var zero T
	s.value, s.full = zero, false
	return v, ok
}

// Wait blocks until a value is offered, the timeout passes or ctx is done,
// then consumes the value. It returns wait.ErrTimeout on timeout.
func (s *Slot[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var got T
	err := wait.Until(ctx, timeout, func() (bool, error) {
		v, ok := s.Take()
		if ok {
			got = v
		}
		return ok, nil
	})
	return got, err
}
