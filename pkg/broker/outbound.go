package broker

import "sync"

// Message is one pending publish.
type Message struct {
	Queue string
	Body  []byte
}

// OutboundQueue buffers messages the broker has not yet accepted. It is
// strictly FIFO: draining publishes the head and stops at the first failure.
type OutboundQueue struct {
	mu    sync.Mutex
	items []Message

	onChange func(depth int)
}

// NewOutboundQueue returns an empty queue. onChange, if set, observes the
// depth after every mutation.
func NewOutboundQueue(onChange func(depth int)) *OutboundQueue {
	return &OutboundQueue{onChange: onChange}
}

// Enqueue appends m unconditionally.
func (q *OutboundQueue) Enqueue(m Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	depth := len(q.items)
	q.mu.Unlock()
	q.notify(depth)
}

// Len returns the number of pending messages.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the pending messages in order.
func (q *OutboundQueue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.items))
	copy(out, q.items)
	return out
}

// Drain publishes messages from the front until the queue is empty or
// publish fails. A message is removed only after publish succeeded. It
// returns how many messages were published and the error that stopped it.
// Callers must not drain concurrently.
func (q *OutboundQueue) Drain(publish func(Message) error) (int, error) {
	published := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return published, nil
		}
		head := q.items[0]
		q.mu.Unlock()

		if err := publish(head); err != nil {
			return published, err
		}

		q.mu.Lock()
		q.items[0] = Message{}
		q.items = q.items[1:]
		depth := len(q.items)
		q.mu.Unlock()

		published++
		q.notify(depth)
	}
}

func (q *OutboundQueue) notify(depth int) {
	if q.onChange != nil {
		q.onChange(depth)
	}
}
