// Package device talks to the vehicle over its UDP text protocol: one
// datagram out, at most one datagram back.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopeer-io/skyrelay/internal/command"
	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/slot"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/wait"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

var (
	// ErrTimeout is returned when no reply arrives from the vehicle in time.
	ErrTimeout = errors.New("no reply from vehicle")

	// ErrExchangeInFlight is returned when another exchange has not finished.
	ErrExchangeInFlight = errors.New("exchange already in flight")

	// ErrClosed is returned by Exchange after Close.
	ErrClosed = errors.New("device link closed")
)

const maxDatagram = 2048

// Config describes the vehicle endpoint.
type Config struct {
	// Address is the vehicle's command address, host:port.
	Address string

	// LocalAddr is the local control port the link binds to.
	LocalAddr string

	// ReplyPort is the source port replies must come from. Zero means the
	// port of Address.
	ReplyPort int
}

// Link is a UDP request/response channel to one vehicle. At most one
// exchange may be in flight at a time.
type Link struct {
	conn      *net.UDPConn
	remote    *net.UDPAddr
	replyPort int

	exchangeMu sync.Mutex
	waiting    atomic.Bool
	reply      slot.Slot[command.Reply]

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Open binds the local control port and starts receiving.
func Open(cfg Config) (*Link, error) {
	remote, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve vehicle address %q: %w", cfg.Address, err)
	}
	local, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve local address %q: %w", cfg.LocalAddr, err)
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("bind control port: %w", err)
	}

	l := &Link{
		conn:      conn,
		remote:    remote,
		replyPort: cfg.ReplyPort,
		done:      make(chan struct{}),
	}
	if l.replyPort == 0 {
		l.replyPort = remote.Port
	}

	go l.receive()

	log.Info("Device link open", "local", conn.LocalAddr().String(), "vehicle", remote.String(), "replyPort", l.replyPort)
	return l, nil
}

// LocalAddr returns the bound control address.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Exchange sends cmd and waits up to timeout for the vehicle's reply.
// Datagrams from any port other than the reply port are dropped and do not
// extend the timeout.
func (l *Link) Exchange(ctx context.Context, cmd string, timeout time.Duration) (command.Reply, error) {
	if l.closed.Load() {
		return "", ErrClosed
	}
	if !l.exchangeMu.TryLock() {
		return "", ErrExchangeInFlight
	}
	defer l.exchangeMu.Unlock()

	verb := verbOf(cmd)
	start := time.Now()

	l.reply.Reset()
	l.waiting.Store(true)
	defer l.waiting.Store(false)

	if _, err := l.conn.WriteToUDP([]byte(cmd), l.remote); err != nil {
		return "", fmt.Errorf("send %q: %w", cmd, err)
	}

	r, err := l.reply.Wait(ctx, timeout)
	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return "", fmt.Errorf("%w: %q after %s", ErrTimeout, cmd, timeout)
		}
		return "", err
	}

	metrics.DeviceExchangeLatency.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	return r, nil
}

// Handshake puts the vehicle into SDK mode. Every other command is ignored
// by the vehicle until this succeeds.
func (l *Link) Handshake(ctx context.Context, timeout time.Duration) error {
	r, err := l.Exchange(ctx, command.SDK.String(), timeout)
	if err != nil {
		return fmt.Errorf("enter sdk mode: %w", err)
	}
	if r != command.ReplyOK {
		return fmt.Errorf("enter sdk mode: vehicle replied %q", r)
	}
	return nil
}

// Close releases the control port.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.conn.Close()
		<-l.done
	})
	return err
}

func (l *Link) receive() {
	defer close(l.done)

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("Device link read failed", "err", err)
			continue
		}

		if from.Port != l.replyPort {
			metrics.DeviceDiscardedTotal.Inc()
			log.Debug("Discarding datagram from unexpected port", "from", from.String())
			continue
		}
		if !l.waiting.Load() {
			log.Debug("Discarding unsolicited reply", "reply", string(buf[:n]))
			continue
		}
		l.reply.Offer(command.NewReply(buf[:n]))
	}
}

func verbOf(cmd string) string {
	if f := strings.Fields(cmd); len(f) > 0 {
		return strings.ToLower(f[0])
	}
	return ""
}
