package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	maxDelay := 30 * time.Second
	tests := []struct {
		k    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.k, maxDelay), "k=%d", tt.k)
	}
}

func effectTypes(effects []Effect) []EffectType {
	types := make([]EffectType, 0, len(effects))
	for _, e := range effects {
		types = append(types, e.Type)
	}
	return types
}

func TestTransitionHappyPath(t *testing.T) {
	p := Policy{MaxAttempts: 3, MaxDelay: 30 * time.Second}
	m := Machine{}

	m, eff := Transition(m, Event{Type: EventConnect}, p)
	assert.Equal(t, Connecting, m.State)
	assert.Equal(t, []EffectType{EffectDial}, effectTypes(eff))

	m, eff = Transition(m, Event{Type: EventDialSucceeded}, p)
	assert.Equal(t, Connected, m.State)
	assert.Equal(t, []EffectType{EffectSetup}, effectTypes(eff))

	// Already connected: a second connect request is ignored.
	m2, eff := Transition(m, Event{Type: EventConnect}, p)
	assert.Equal(t, m, m2)
	assert.Empty(t, eff)
}

func TestTransitionBackoffAndReset(t *testing.T) {
	p := Policy{MaxAttempts: 5, MaxDelay: 30 * time.Second}
	boom := errors.New("refused")
	m := Machine{}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		m, _ = Transition(m, Event{Type: EventConnect}, p)
		var eff []Effect
		m, eff = Transition(m, Event{Type: EventDialFailed, Err: boom}, p)
		require.Equal(t, []EffectType{EffectTeardown, EffectScheduleReconnect}, effectTypes(eff))
		assert.ErrorIs(t, eff[0].Err, boom)
		delays = append(delays, eff[1].Delay)
		assert.Equal(t, Disconnected, m.State)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Equal(t, 3, m.Attempt)

	m, _ = Transition(m, Event{Type: EventRetry}, p)
	m, _ = Transition(m, Event{Type: EventDialSucceeded}, p)
	assert.Equal(t, 3, m.Attempt, "dial alone does not reset attempts")

	m, eff := Transition(m, Event{Type: EventSetupSucceeded}, p)
	assert.Empty(t, eff)
	assert.Equal(t, 0, m.Attempt)

	m, eff = Transition(m, Event{Type: EventChannelError, Err: boom}, p)
	require.Equal(t, []EffectType{EffectTeardown, EffectScheduleReconnect}, effectTypes(eff))
	assert.Equal(t, time.Second, eff[1].Delay)
	assert.Equal(t, 1, m.Attempt)
}

func TestTransitionSetupFailuresExhaust(t *testing.T) {
	p := Policy{MaxAttempts: 2, MaxDelay: 30 * time.Second}
	denied := errors.New("not authorized")
	m := Machine{}

	var last []Effect
	for i := 0; i <= p.MaxAttempts; i++ {
		m, _ = Transition(m, Event{Type: EventRetry}, p)
		m, _ = Transition(m, Event{Type: EventDialSucceeded}, p)
		m, last = Transition(m, Event{Type: EventChannelError, Err: denied}, p)
	}
	require.Equal(t, []EffectType{EffectTeardown, EffectReportFatal}, effectTypes(last))
	assert.ErrorIs(t, last[1].Err, ErrFatal)
	assert.True(t, m.Exhausted)
}

func TestTransitionExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 2, MaxDelay: 30 * time.Second}
	boom := errors.New("refused")
	m := Machine{}

	for i := 0; i < 2; i++ {
		m, _ = Transition(m, Event{Type: EventRetry}, p)
		m, _ = Transition(m, Event{Type: EventDialFailed, Err: boom}, p)
	}

	m, _ = Transition(m, Event{Type: EventRetry}, p)
	m, eff := Transition(m, Event{Type: EventDialFailed, Err: boom}, p)
	require.Equal(t, []EffectType{EffectTeardown, EffectReportFatal}, effectTypes(eff))
	assert.ErrorIs(t, eff[1].Err, ErrFatal)
	assert.True(t, m.Exhausted)

	// No further attempts once exhausted.
	_, eff = Transition(m, Event{Type: EventRetry}, p)
	assert.Empty(t, eff)
}

func TestTransitionShutdown(t *testing.T) {
	p := Policy{MaxAttempts: 3, MaxDelay: 30 * time.Second}
	m := Machine{State: Connected}

	m, eff := Transition(m, Event{Type: EventShutdown}, p)
	assert.True(t, m.Closing)
	assert.Equal(t, Disconnected, m.State)
	assert.Equal(t, []EffectType{EffectTeardown}, effectTypes(eff))

	_, eff = Transition(m, Event{Type: EventShutdown}, p)
	assert.Empty(t, eff)

	_, eff = Transition(m, Event{Type: EventRetry}, p)
	assert.Empty(t, eff)

	// A failure reported while closing is expected and schedules nothing.
	m = Machine{State: Connecting, Closing: true}
	m, eff = Transition(m, Event{Type: EventDialFailed, Err: errors.New("closed")}, p)
	assert.Equal(t, []EffectType{EffectTeardown}, effectTypes(eff))
	assert.Equal(t, Disconnected, m.State)
}

func TestTransitionIgnoresStaleEvents(t *testing.T) {
	p := Policy{MaxAttempts: 3, MaxDelay: 30 * time.Second}

	_, eff := Transition(Machine{State: Disconnected}, Event{Type: EventChannelError}, p)
	assert.Empty(t, eff)

	_, eff = Transition(Machine{State: Connected}, Event{Type: EventDialFailed}, p)
	assert.Empty(t, eff)

	_, eff = Transition(Machine{State: Disconnected}, Event{Type: EventDialSucceeded}, p)
	assert.Empty(t, eff)

	m, eff := Transition(Machine{State: Disconnected, Attempt: 2}, Event{Type: EventSetupSucceeded}, p)
	assert.Empty(t, eff)
	assert.Equal(t, 2, m.Attempt)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
}
