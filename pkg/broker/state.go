package broker

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// EventType enumerates the inputs of the lifecycle state machine.
type EventType int

const (
	EventConnect EventType = iota
	EventRetry
	EventDialSucceeded
	EventDialFailed
	EventSetupSucceeded
	EventChannelError
	EventShutdown
)

func (e EventType) String() string {
	return [...]string{"Connect", "Retry", "DialSucceeded", "DialFailed", "SetupSucceeded", "ChannelError", "Shutdown"}[e]
}

// Event is one input to Transition.
type Event struct {
	Type EventType
	Err  error

	// generation identifies the session a ChannelError belongs to.
	generation uint64
}

// EffectType enumerates the side effects a transition asks for.
type EffectType int

const (
	// EffectDial opens a new session.
	EffectDial EffectType = iota
	// EffectSetup declares queues, re-subscribes consumers and drains the
	// outbound queue before the connection is usable.
	EffectSetup
	// EffectTeardown closes the current session, if any.
	EffectTeardown
	// EffectScheduleReconnect arms a timer that fires EventRetry after Delay.
	EffectScheduleReconnect
	// EffectReportFatal surfaces Err to the owner; no further retries happen.
	EffectReportFatal
)

func (e EffectType) String() string {
	return [...]string{"Dial", "Setup", "Teardown", "ScheduleReconnect", "ReportFatal"}[e]
}

// Effect is a side effect requested by Transition.
type Effect struct {
	Type  EffectType
	Delay time.Duration
	Err   error
}

// Policy bounds reconnection.
type Policy struct {
	// MaxAttempts is the number of reconnects tried before giving up.
	MaxAttempts int
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// Machine is the complete lifecycle state.
type Machine struct {
	State   State
	Attempt int
	// Closing is set by an intentional shutdown; failures are then expected.
	Closing bool
	// Exhausted is set once the fatal error has been reported.
	Exhausted bool
}

// Backoff returns the delay before reconnect attempt k (0-indexed):
// min(maxDelay, 2^k seconds).
func Backoff(k int, maxDelay time.Duration) time.Duration {
	if k < 0 {
		k = 0
	}
	// 2^33 s already overflows time.Duration.
	if k >= 33 {
		return maxDelay
	}
	d := time.Duration(int64(1)<<uint(k)) * time.Second
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Transition is the pure lifecycle function: given the current machine and
// an event it returns the next machine and the effects to perform, in order.
func Transition(m Machine, ev Event, p Policy) (Machine, []Effect) {
	switch ev.Type {
	case EventShutdown:
		if m.Closing {
			return m, nil
		}
		m.Closing = true
		m.State = Disconnected
		return m, []Effect{{Type: EffectTeardown}}

	case EventConnect, EventRetry:
		if m.Closing || m.Exhausted || m.State != Disconnected {
			return m, nil
		}
		m.State = Connecting
		return m, []Effect{{Type: EffectDial}}

	case EventDialSucceeded:
		if m.State != Connecting {
			return m, nil
		}
		m.State = Connected
		return m, []Effect{{Type: EffectSetup}}

	case EventSetupSucceeded:
		// Attempts reset only once consumers are subscribed.
		if m.State != Connected {
			return m, nil
		}
		m.Attempt = 0
		return m, nil

	case EventDialFailed:
		if m.State != Connecting {
			return m, nil
		}
		return fail(m, ev.Err, p)

	case EventChannelError:
		if m.State == Disconnected {
			return m, nil
		}
		return fail(m, ev.Err, p)
	}

	return m, nil
}

func fail(m Machine, err error, p Policy) (Machine, []Effect) {
	m.State = Disconnected
	effects := []Effect{{Type: EffectTeardown, Err: err}}
	if m.Closing {
		return m, effects
	}

	if m.Attempt >= p.MaxAttempts {
		m.Exhausted = true
		return m, append(effects, Effect{
			Type: EffectReportFatal,
			Err:  fmt.Errorf("%w: gave up after %d reconnect attempts: %v", ErrFatal, m.Attempt, err),
		})
	}

	delay := Backoff(m.Attempt, p.MaxDelay)
	m.Attempt++
	return m, append(effects, Effect{Type: EffectScheduleReconnect, Delay: delay, Err: err})
}
