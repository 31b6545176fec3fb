package relayagent

import (
	"context"
	"errors"
	"time"

	"github.com/autopeer-io/skyrelay/internal/command"
	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/device"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

// Exchanger performs one request/response exchange with the vehicle.
type Exchanger interface {
	Exchange(ctx context.Context, cmd string, timeout time.Duration) (command.Reply, error)
}

// Publisher sends a reply back to the flight controller.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) bool
}

// Worker relays deliveries from the commands queue to the vehicle, one at a
// time and in arrival order, and publishes every outcome on the responses
// queue.
type Worker struct {
	device  Exchanger
	pub     Publisher
	timeout time.Duration

	deliveries chan []byte
}

// NewWorker creates a worker buffering up to depth deliveries.
func NewWorker(dev Exchanger, pub Publisher, timeout time.Duration, depth int) *Worker {
	if depth < 1 {
		depth = 1
	}
	return &Worker{
		device:     dev,
		pub:        pub,
		timeout:    timeout,
		deliveries: make(chan []byte, depth),
	}
}

// Enqueue is the broker consumer. It only hands the delivery to the worker
// goroutine and blocks while the buffer is full.
func (w *Worker) Enqueue(body []byte) {
	w.deliveries <- append([]byte(nil), body...)
}

// Start processes deliveries until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-w.deliveries:
			reply := w.Handle(ctx, body)
			w.pub.Publish(ctx, broker.QueueResponses, []byte(reply))
		}
	}
}

// Handle relays one delivery and returns the reply to publish. Malformed
// text is answered with "invalid command" without touching the vehicle; a
// timeout or send failure is answered with "error".
func (w *Worker) Handle(ctx context.Context, body []byte) command.Reply {
	cmd, err := command.Parse(string(body))
	if err == nil {
		err = cmd.WellFormed()
	}
	if err != nil {
		log.Warn("Rejecting malformed command", "body", body, "error", err)
		metrics.RelayedTotal.WithLabelValues("", "invalid").Inc()
		return command.ReplyInvalidCommand
	}

	reply, err := w.device.Exchange(ctx, cmd.String(), w.timeout)
	switch {
	case errors.Is(err, device.ErrTimeout):
		log.Warn("Vehicle did not answer", "command", cmd.String(), "timeout", w.timeout)
		metrics.RelayedTotal.WithLabelValues(cmd.Verb(), "timeout").Inc()
		return command.ReplyError
	case err != nil:
		log.Error(err, "Failed to relay command", "command", cmd)
		metrics.RelayedTotal.WithLabelValues(cmd.Verb(), "send_error").Inc()
		return command.ReplyError
	}

	log.Info("Relayed command", "command", cmd, "reply", reply)
	metrics.RelayedTotal.WithLabelValues(cmd.Verb(), "reply").Inc()
	return reply
}
