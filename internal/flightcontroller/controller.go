// Package flightcontroller drives one flight from the ground station side:
// it publishes commands to the broker, waits for the relay agent's replies
// and steers the vehicle through pre-flight checks, the command sequence and
// landing.
package flightcontroller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/skyrelay/internal/pkg/server"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

// Connection is the broker connection as seen by the controller.
type Connection interface {
	Start(ctx context.Context)
	AwaitReady(ctx context.Context, timeout time.Duration) error
	Fatal() <-chan error
	Close(ctx context.Context) error
}

// Controller runs one flight and exits.
type Controller struct {
	conn         Connection
	orchestrator *Orchestrator
	http         *server.HTTPServer

	readyTimeout time.Duration
	closeTimeout time.Duration
	out          io.Writer
}

// Run connects to the broker, flies the sequence and prints the report. A
// permanent broker failure cancels the flight; the orchestrator still tries
// to land and the broker error is returned.
func (c *Controller) Run(ctx context.Context) error {
	log.Info("Starting skyrelay-controller")

	g, gctx := errgroup.WithContext(ctx)
	httpCtx, stopHTTP := context.WithCancel(gctx)
	defer stopHTTP()

	if c.http != nil {
		g.Go(func() error { return c.http.Start(httpCtx) })
	}

	g.Go(func() error {
		defer stopHTTP()
		return c.fly(gctx)
	})

	return g.Wait()
}

func (c *Controller) fly(ctx context.Context) error {
	c.conn.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout+time.Second)
		defer cancel()
		if err := c.conn.Close(closeCtx); err != nil {
			log.Warn("Broker connection did not close cleanly", "error", err)
		}
	}()

	if err := c.conn.AwaitReady(ctx, c.readyTimeout); err != nil {
		return fmt.Errorf("broker not ready: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case err := <-c.conn.Fatal():
			log.Error(err, "Broker connection lost permanently, aborting flight")
			cancel(err)
		case <-runCtx.Done():
		}
	}()

	report, err := c.orchestrator.Run(runCtx)
	if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = errors.Join(cause, err)
	}

	if rerr := report.Render(c.out); rerr != nil {
		log.Warn("Failed to print flight report", "error", rerr)
	}
	return err
}
