package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(body string) Message {
	return Message{Queue: QueueCommands, Body: []byte(body)}
}

func TestOutboundQueueDrainInOrder(t *testing.T) {
	var depths []int
	q := NewOutboundQueue(func(d int) { depths = append(depths, d) })

	q.Enqueue(msg("takeoff"))
	q.Enqueue(msg("forward 50"))
	q.Enqueue(msg("land"))
	assert.Equal(t, 3, q.Len())

	var sent []string
	n, err := q.Drain(func(m Message) error {
		sent = append(sent, string(m.Body))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"takeoff", "forward 50", "land"}, sent)
	assert.Zero(t, q.Len())
	assert.Equal(t, []int{1, 2, 3, 2, 1, 0}, depths)
}

func TestOutboundQueueDrainStopsOnFailure(t *testing.T) {
	q := NewOutboundQueue(nil)
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))
	q.Enqueue(msg("c"))

	boom := errors.New("channel closed")
	calls := 0
	n, err := q.Drain(func(m Message) error {
		calls++
		if string(m.Body) == "b" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)

	// The failed head is kept and nothing behind it was skipped.
	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", string(pending[0].Body))
	assert.Equal(t, "c", string(pending[1].Body))

	var sent []string
	_, err = q.Drain(func(m Message) error {
		sent = append(sent, string(m.Body))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, sent)
}

func TestOutboundQueueDrainEmpty(t *testing.T) {
	q := NewOutboundQueue(nil)
	n, err := q.Drain(func(Message) error {
		t.Fatal("publish called on empty queue")
		return nil
	})
	assert.NoError(t, err)
	assert.Zero(t, n)
}
