// Package relayagent runs next to the vehicle: it consumes commands from the
// broker, forwards them over UDP and publishes the vehicle's replies.
package relayagent

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/skyrelay/internal/pkg/server"
	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

// Link is the vehicle side of the agent.
type Link interface {
	Exchanger
	Handshake(ctx context.Context, timeout time.Duration) error
	Close() error
}

// Connection is the broker side of the agent.
type Connection interface {
	Publisher
	Start(ctx context.Context)
	Consume(queue string, h broker.Handler) error
	Fatal() <-chan error
	Close(ctx context.Context) error
}

// Agent relays commands until its context is done or the broker connection
// is lost permanently.
type Agent struct {
	conn   Connection
	link   Link
	worker *Worker
	http   *server.HTTPServer

	handshakeTimeout time.Duration
	closeTimeout     time.Duration
}

// Run puts the vehicle into SDK mode, then relays commands. The agent refuses
// to consume anything if the vehicle does not accept SDK mode.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting skyrelay-agent")
	defer func() {
		if err := a.link.Close(); err != nil {
			log.Warn("Failed to close device link", "error", err)
		}
	}()

	if err := a.link.Handshake(ctx, a.handshakeTimeout); err != nil {
		return fmt.Errorf("vehicle handshake failed: %w", err)
	}
	log.Info("Vehicle in SDK mode")

	if err := a.conn.Consume(broker.QueueCommands, a.worker.Enqueue); err != nil {
		return err
	}
	a.conn.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.closeTimeout+time.Second)
		defer cancel()
		if err := a.conn.Close(closeCtx); err != nil {
			log.Warn("Broker connection did not close cleanly", "error", err)
		}
	}()

	mgr := server.NewManager(
		a.worker,
		server.RunFunc(a.watchFatal),
	)
	if a.http != nil {
		mgr.Add(a.http)
	}

	err := mgr.Start(ctx)
	log.Info("Agent shutting down...")
	return err
}

func (a *Agent) watchFatal(ctx context.Context) error {
	select {
	case err := <-a.conn.Fatal():
		return err
	case <-ctx.Done():
		return nil
	}
}
