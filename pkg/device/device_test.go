package device

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skyrelay/internal/command"
)

// fakeVehicle answers every datagram with reply, optionally preceded by a
// stray datagram from another port.
type fakeVehicle struct {
	conn  *net.UDPConn
	stray *net.UDPConn

	mu       sync.Mutex
	reply    string
	silent   bool
	received []string
}

func newFakeVehicle(t *testing.T) *fakeVehicle {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	stray, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	v := &fakeVehicle{conn: conn, stray: stray, reply: "ok"}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = stray.Close()
	})
	go v.serve()
	return v
}

func (v *fakeVehicle) serve() {
	buf := make([]byte, 1024)
	for {
		n, from, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.received = append(v.received, string(buf[:n]))
		reply, silent := v.reply, v.silent
		v.mu.Unlock()

		_, _ = v.stray.WriteToUDP([]byte("stray"), from)
		if !silent {
			_, _ = v.conn.WriteToUDP([]byte(reply+"\r\n"), from)
		}
	}
}

func (v *fakeVehicle) set(reply string, silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reply, v.silent = reply, silent
}

func (v *fakeVehicle) commands() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.received...)
}

func openLink(t *testing.T, v *fakeVehicle) *Link {
	t.Helper()
	l, err := Open(Config{
		Address:   v.conn.LocalAddr().String(),
		LocalAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestExchange(t *testing.T) {
	v := newFakeVehicle(t)
	l := openLink(t, v)

	r, err := l.Exchange(context.Background(), "takeoff", time.Second)
	require.NoError(t, err)
	assert.Equal(t, command.ReplyOK, r)

	v.set("87", false)
	r, err = l.Exchange(context.Background(), "battery?", time.Second)
	require.NoError(t, err)
	assert.Equal(t, command.Reply("87"), r)

	assert.Equal(t, []string{"takeoff", "battery?"}, v.commands())
}

func TestExchangeTimeoutIgnoresStrayPorts(t *testing.T) {
	v := newFakeVehicle(t)
	v.set("", true)
	l := openLink(t, v)

	start := time.Now()
	_, err := l.Exchange(context.Background(), "forward 50", 200*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestExchangeInFlight(t *testing.T) {
	v := newFakeVehicle(t)
	v.set("", true)
	l := openLink(t, v)

	errs := make(chan error, 1)
	go func() {
		_, err := l.Exchange(context.Background(), "land", 500*time.Millisecond)
		errs <- err
	}()

	require.Eventually(t, func() bool { return len(v.commands()) == 1 }, time.Second, 5*time.Millisecond)
	_, err := l.Exchange(context.Background(), "land", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrExchangeInFlight)

	assert.ErrorIs(t, <-errs, ErrTimeout)
}

func TestExchangeContextCancelled(t *testing.T) {
	v := newFakeVehicle(t)
	v.set("", true)
	l := openLink(t, v)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := l.Exchange(ctx, "land", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandshake(t *testing.T) {
	v := newFakeVehicle(t)
	l := openLink(t, v)

	require.NoError(t, l.Handshake(context.Background(), time.Second))
	assert.Equal(t, []string{"command"}, v.commands())

	v.set("error", false)
	assert.Error(t, l.Handshake(context.Background(), time.Second))
}

func TestClose(t *testing.T) {
	v := newFakeVehicle(t)
	l := openLink(t, v)

	require.NoError(t, l.Close())
	_, err := l.Exchange(context.Background(), "land", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
