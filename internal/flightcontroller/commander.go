package flightcontroller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/skyrelay/internal/command"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/slot"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/wait"
	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

// ErrNoReply is returned when the relay agent does not answer in time.
var ErrNoReply = errors.New("no reply before timeout")

// Commander sends one command to the vehicle and waits for its reply.
type Commander interface {
	Send(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Reply, error)
}

// Bus is the part of a broker connection the commander needs.
type Bus interface {
	Publish(ctx context.Context, queue string, body []byte) bool
	Consume(queue string, h broker.Handler) error
}

// BrokerCommander publishes commands on the commands queue and correlates the
// next message on the responses queue with the command in flight. Only one
// command may be in flight at a time.
type BrokerCommander struct {
	bus   Bus
	reply slot.Slot[command.Reply]
}

var _ Commander = (*BrokerCommander)(nil)

// NewBrokerCommander subscribes to the responses queue on bus.
func NewBrokerCommander(bus Bus) (*BrokerCommander, error) {
	c := &BrokerCommander{bus: bus}
	if err := bus.Consume(broker.QueueResponses, c.onResponse); err != nil {
		return nil, fmt.Errorf("consume %s: %w", broker.QueueResponses, err)
	}
	return c, nil
}

// Send publishes cmd and waits up to timeout for a reply. A publish the
// broker did not accept stays queued and the wait still applies.
func (c *BrokerCommander) Send(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Reply, error) {
	c.reply.Reset()

	if !c.bus.Publish(ctx, broker.QueueCommands, cmd.Bytes()) {
		log.Debug("Command queued until the broker is reachable", "command", cmd)
	}

	r, err := c.reply.Wait(ctx, timeout)
	if errors.Is(err, wait.ErrTimeout) {
		return "", ErrNoReply
	}
	return r, err
}

func (c *BrokerCommander) onResponse(body []byte) {
	r := command.NewReply(body)
	if !c.reply.Offer(r) {
		log.Warn("Dropping reply, an earlier one is still unread", "reply", r)
	}
}
