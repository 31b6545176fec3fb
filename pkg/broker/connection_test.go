package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type published struct {
	queue string
	body  string
}

type fakeSession struct {
	mu        sync.Mutex
	published []published
	consumers map[string]Handler
	declared  []string
	failPub   error
	failSub   error
	closed    chan error
	isClosed  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		consumers: make(map[string]Handler),
		closed:    make(chan error, 1),
	}
}

func (s *fakeSession) Declare(_ context.Context, queues ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declared = append(s.declared, queues...)
	return nil
}

func (s *fakeSession) Publish(_ context.Context, queue string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPub != nil {
		return s.failPub
	}
	s.published = append(s.published, published{queue, string(body)})
	return nil
}

func (s *fakeSession) Consume(_ context.Context, queue string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSub != nil {
		return s.failSub
	}
	s.consumers[queue] = h
	return nil
}

func (s *fakeSession) Closed() <-chan error { return s.closed }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isClosed = true
	return nil
}

func (s *fakeSession) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for _, p := range s.published {
		out = append(out, p.body)
	}
	return out
}

func (s *fakeSession) consumer(queue string) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers[queue]
}

func (s *fakeSession) kill(err error) { s.closed <- err }

// fakeDialer hands out sessions, failing while fail is set. Sessions reject
// subscriptions with failSub when it is set.
type fakeDialer struct {
	mu       sync.Mutex
	fail     error
	failSub  error
	dials    int
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail != nil {
		return nil, d.fail
	}
	s := newFakeSession()
	s.failSub = d.failSub
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func newTestConnection(t *testing.T, d Dialer, maxAttempts int) (*Connection, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Now())
	c := NewConnection(d, Config{
		MaxReconnectAttempts: maxAttempts,
		ReconnectDelayMax:    30 * time.Second,
		CloseTimeout:         100 * time.Millisecond,
	}, WithClock(clk))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, clk
}

const eventually = 2 * time.Second

func TestConnectionConnectsAndPublishes(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestConnection(t, d, 3)

	c.Start(context.Background())
	require.NoError(t, c.AwaitReady(context.Background(), eventually))
	assert.Equal(t, Connected, c.State())

	sess := d.last()
	assert.ElementsMatch(t, Queues, sess.declared)

	assert.True(t, c.Publish(context.Background(), QueueCommands, []byte("takeoff")))
	assert.Equal(t, []string{"takeoff"}, sess.bodies())
}

func TestConnectionQueuesWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	d.setFail(errors.New("refused"))
	c, clk := newTestConnection(t, d, 5)

	assert.False(t, c.Publish(context.Background(), QueueCommands, []byte("takeoff")))
	assert.False(t, c.Publish(context.Background(), QueueCommands, []byte("forward 50")))
	assert.Equal(t, 2, c.Outbound().Len())

	c.Start(context.Background())
	require.Eventually(t, clk.HasWaiters, eventually, time.Millisecond)

	d.setFail(nil)
	clk.Step(time.Second)
	require.NoError(t, c.AwaitReady(context.Background(), eventually))

	assert.True(t, c.Publish(context.Background(), QueueCommands, []byte("land")))
	assert.Equal(t, []string{"takeoff", "forward 50", "land"}, d.last().bodies())
	assert.Zero(t, c.Outbound().Len())
}

func TestConnectionFailedPublishIsQueued(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestConnection(t, d, 3)
	c.Start(context.Background())
	require.NoError(t, c.AwaitReady(context.Background(), eventually))

	sess := d.last()
	sess.mu.Lock()
	sess.failPub = errors.New("channel busy")
	sess.mu.Unlock()

	assert.False(t, c.Publish(context.Background(), QueueResponses, []byte("ok")))
	assert.Equal(t, 1, c.Outbound().Len())

	sess.mu.Lock()
	sess.failPub = nil
	sess.mu.Unlock()

	// The next publish drains the queued reply first.
	assert.True(t, c.Publish(context.Background(), QueueResponses, []byte("error")))
	assert.Equal(t, []string{"ok", "error"}, sess.bodies())
}

func TestConnectionReconnectsAndResubscribes(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestConnection(t, d, 3)

	var mu sync.Mutex
	var got []string
	require.NoError(t, c.Consume(QueueResponses, func(body []byte) {
		mu.Lock()
		got = append(got, string(body))
		mu.Unlock()
	}))

	c.Start(context.Background())
	require.NoError(t, c.AwaitReady(context.Background(), eventually))
	first := d.last()
	first.consumer(QueueResponses)([]byte("ok"))

	first.kill(errors.New("connection reset"))
	require.Eventually(t, func() bool { return c.State() == Disconnected }, eventually, time.Millisecond)
	require.Eventually(t, clk.HasWaiters, eventually, time.Millisecond)
	assert.False(t, c.Publish(context.Background(), QueueCommands, []byte("land")))

	clk.Step(time.Second)
	require.NoError(t, c.AwaitReady(context.Background(), eventually))

	second := d.last()
	require.NotSame(t, first, second)
	first.mu.Lock()
	assert.True(t, first.isClosed)
	first.mu.Unlock()

	h := second.consumer(QueueResponses)
	require.NotNil(t, h)
	h([]byte("error"))

	mu.Lock()
	assert.Equal(t, []string{"ok", "error"}, got)
	mu.Unlock()
	assert.Equal(t, []string{"land"}, second.bodies())
}

func TestConnectionFatalAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	d.setFail(errors.New("refused"))
	c, clk := newTestConnection(t, d, 2)

	c.Start(context.Background())

	for _, delay := range []time.Duration{time.Second, 2 * time.Second} {
		require.Eventually(t, clk.HasWaiters, eventually, time.Millisecond)
		clk.Step(delay)
	}

	select {
	case err := <-c.Fatal():
		assert.ErrorIs(t, err, ErrFatal)
	case <-time.After(eventually):
		t.Fatal("no fatal error reported")
	}
	assert.Equal(t, 3, d.dialCount())
	assert.ErrorIs(t, c.AwaitReady(context.Background(), time.Second), ErrFatal)
	assert.False(t, clk.HasWaiters())
}

func TestConnectionFatalWhenSubscribeAlwaysFails(t *testing.T) {
	d := &fakeDialer{failSub: errors.New("not authorized")}
	c, clk := newTestConnection(t, d, 2)
	require.NoError(t, c.Consume(QueueCommands, func([]byte) {}))

	c.Start(context.Background())

	for _, delay := range []time.Duration{time.Second, 2 * time.Second} {
		require.Eventually(t, clk.HasWaiters, eventually, time.Millisecond)
		clk.Step(delay)
	}

	select {
	case err := <-c.Fatal():
		assert.ErrorIs(t, err, ErrFatal)
	case <-time.After(eventually):
		t.Fatalf("no fatal error reported after %d dials", d.dialCount())
	}
	assert.Equal(t, 3, d.dialCount())
	assert.False(t, c.Ready())
}

// blockingDialer blocks every dial until its context is cancelled.
type blockingDialer struct {
	started chan struct{}
	once    sync.Once
}

func (d *blockingDialer) Dial(ctx context.Context) (Session, error) {
	d.once.Do(func() { close(d.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnectionCloseDuringDialIsQuiet(t *testing.T) {
	d := &blockingDialer{started: make(chan struct{})}
	clk := testingclock.NewFakeClock(time.Now())
	c := NewConnection(d, Config{
		MaxReconnectAttempts: 0,
		ConnectTimeout:       time.Minute,
		CloseTimeout:         100 * time.Millisecond,
	}, WithClock(clk))

	c.Start(context.Background())
	select {
	case <-d.started:
	case <-time.After(eventually):
		t.Fatal("dial never started")
	}

	require.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Err())
	assert.False(t, clk.HasWaiters())
	select {
	case err := <-c.Fatal():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
	assert.Equal(t, Disconnected, c.State())
}

func TestConnectionCloseStopsReconnecting(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestConnection(t, d, 3)
	c.Start(context.Background())
	require.NoError(t, c.AwaitReady(context.Background(), eventually))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, Disconnected, c.State())
	assert.False(t, clk.HasWaiters())
	assert.Equal(t, 1, d.dialCount())
	assert.ErrorIs(t, c.AwaitReady(context.Background(), 50*time.Millisecond), ErrClosed)
}

func TestConnectionStopsWithContext(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestConnection(t, d, 3)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	require.NoError(t, c.AwaitReady(context.Background(), eventually))

	cancel()
	sess := d.last()
	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.isClosed
	}, eventually, time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
}
