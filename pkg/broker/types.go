// Package broker owns the lifecycle of one logical connection to the message
// broker: connect, declare the durable queues, publish and consume, and
// recover from channel or connection loss with exponential backoff.
//
// Transports plug in through Dialer and Session; see the amqp and mqtt
// subpackages.
package broker

import (
	"context"
	"errors"
)

// Durable queues shared by the flight controller and the relay agent.
const (
	QueueCommands  = "commands"
	QueueResponses = "responses"
)

// Queues lists every queue declared on connect.
var Queues = []string{QueueCommands, QueueResponses}

var (
	// ErrFatal is reported when reconnect attempts are exhausted.
	ErrFatal = errors.New("broker connection lost permanently")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("broker connection closed")
)

// Handler is invoked once per delivered message. Messages are considered
// consumed on receipt; there is no application-level acknowledgement.
// Handlers run on the transport's delivery goroutine and must not block.
type Handler func(body []byte)

// Session is one established connection plus channel to the broker.
type Session interface {
	// Declare idempotently declares durable queues.
	Declare(ctx context.Context, queues ...string) error

	// Publish hands body to the broker for queue. A nil error means the
	// broker accepted it, not that it was delivered.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume starts delivering messages from queue to h, in arrival order.
	Consume(ctx context.Context, queue string, h Handler) error

	// Closed yields one error when the session dies for any reason other
	// than Close.
	Closed() <-chan error

	// Close tears the session down.
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }
