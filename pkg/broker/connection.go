package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/wait"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

// Config tunes a Connection.
type Config struct {
	// Queues are declared on every transition into Connected.
	Queues []string

	MaxReconnectAttempts int
	ReconnectDelayMax    time.Duration

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	CloseTimeout   time.Duration
}

func setDefaultConfig(cfg *Config) {
	if len(cfg.Queues) == 0 {
		cfg.Queues = Queues
	}
	if cfg.ReconnectDelayMax == 0 {
		cfg.ReconnectDelayMax = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = time.Second
	}
}

// Option customizes a Connection.
type Option func(*Connection)

// WithClock replaces the clock used for reconnect timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(conn *Connection) { conn.clock = c }
}

// WithLogger replaces the connection logger.
func WithLogger(l log.Logger) Option {
	return func(conn *Connection) { conn.log = l }
}

// Connection is a self-healing broker connection. All lifecycle transitions
// run on one event loop goroutine; publishers and consumers may call in from
// any goroutine.
type Connection struct {
	cfg    Config
	policy Policy
	dialer Dialer
	clock  clock.WithDelayedExecution
	log    log.Logger

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once

	// pubMu serializes publishes, consumer registration and session setup,
	// so nothing is published ahead of the drained outbound queue.
	pubMu sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	machine    Machine
	session    Session
	generation uint64
	live       bool
	consumers  map[string]Handler
	timer      clock.Timer
	fatalErr   error

	outbound *OutboundQueue
	fatal    chan error
}

// NewConnection returns a Connection that dials through d once started.
func NewConnection(d Dialer, cfg Config, opts ...Option) *Connection {
	setDefaultConfig(&cfg)

	c := &Connection{
		cfg: cfg,
		policy: Policy{
			MaxAttempts: cfg.MaxReconnectAttempts,
			MaxDelay:    cfg.ReconnectDelayMax,
		},
		dialer:    d,
		clock:     clock.RealClock{},
		log:       log.WithName("broker"),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
		consumers: make(map[string]Handler),
		fatal:     make(chan error, 1),
	}
	c.outbound = NewOutboundQueue(func(depth int) {
		metrics.OutboundQueueDepth.Set(float64(depth))
	})
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the event loop and the first connection attempt. The loop
// stops when ctx is done or Close is called.
func (c *Connection) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.done:
		}
	}()

	go c.loop()
	c.post(Event{Type: EventConnect})
}

// Close shuts the connection down without triggering reconnects and waits
// for the teardown to finish or ctx to expire.
func (c *Connection) Close(ctx context.Context) error {
	c.shutdown()
	if !c.started.Load() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
	})
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State
}

// Ready reports whether the connection is Connected and set up.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Fatal yields the error that ended reconnection, at most once.
func (c *Connection) Fatal() <-chan error {
	return c.fatal
}

// Err returns the fatal error, if one has been reported.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Outbound exposes the local retry queue.
func (c *Connection) Outbound() *OutboundQueue {
	return c.outbound
}

// AwaitReady blocks until the connection is usable, the timeout elapses,
// ctx is done, or the connection fails permanently.
func (c *Connection) AwaitReady(ctx context.Context, timeout time.Duration) error {
	return wait.Until(ctx, timeout, func() (bool, error) {
		if err := c.Err(); err != nil {
			return false, err
		}
		if c.closing.Load() {
			return false, ErrClosed
		}
		return c.Ready(), nil
	})
}

// Consume registers h for queue. The subscription is made now if the
// connection is ready and repeated after every reconnect.
func (c *Connection) Consume(queue string, h Handler) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.consumers[queue] = h
	sess, live := c.session, c.live
	c.mu.Unlock()

	if !live {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.PublishTimeout)
	defer cancel()
	if err := sess.Consume(ctx, queue, h); err != nil {
		c.channelError(fmt.Errorf("consume %s: %w", queue, err))
		return err
	}
	return nil
}

// Publish publishes body to queue if the connection is ready and nothing is
// waiting ahead of it; otherwise the message is queued locally and sent, in
// order, once the connection is ready again. It reports whether body itself
// was accepted by the broker during this call.
func (c *Connection) Publish(ctx context.Context, queue string, body []byte) bool {
	msg := Message{Queue: queue, Body: body}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	sess, live := c.session, c.live
	c.mu.Unlock()

	if !live {
		c.outbound.Enqueue(msg)
		metrics.PublishedTotal.WithLabelValues(queue, "queued").Inc()
		c.log.Debug("Broker not ready, queued message", "queue", queue, "pending", c.outbound.Len())
		return false
	}

	if c.outbound.Len() > 0 {
		c.outbound.Enqueue(msg)
		metrics.PublishedTotal.WithLabelValues(queue, "queued").Inc()
		if err := c.drainLocked(ctx, sess); err != nil {
			return false
		}
		return true
	}

	if err := c.publishOne(ctx, sess, msg); err != nil {
		c.outbound.Enqueue(msg)
		metrics.PublishedTotal.WithLabelValues(queue, "queued").Inc()
		c.log.Warn("Publish failed, queued message for retry", "queue", queue, "error", err)
		return false
	}
	return true
}

func (c *Connection) publishOne(ctx context.Context, sess Session, msg Message) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	if err := sess.Publish(pctx, msg.Queue, msg.Body); err != nil {
		return err
	}
	metrics.PublishedTotal.WithLabelValues(msg.Queue, "accepted").Inc()
	return nil
}

// drainLocked must be called with pubMu held.
func (c *Connection) drainLocked(ctx context.Context, sess Session) error {
	n, err := c.outbound.Drain(func(m Message) error {
		return c.publishOne(ctx, sess, m)
	})
	if n > 0 {
		c.log.Info("Drained outbound queue", "published", n, "pending", c.outbound.Len())
	}
	if err != nil {
		c.log.Warn("Draining stopped at queue head", "pending", c.outbound.Len(), "error", err)
	}
	return err
}

func (c *Connection) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Connection) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.dispatch(Event{Type: EventShutdown})
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// dispatch applies one event. It only runs on the loop goroutine.
func (c *Connection) dispatch(ev Event) {
	c.mu.Lock()
	if ev.Type == EventChannelError && ev.generation != c.generation {
		c.mu.Unlock()
		return
	}
	prev := c.machine
	next, effects := Transition(prev, ev, c.policy)
	c.machine = next
	c.mu.Unlock()

	metrics.BrokerConnectionState.Set(float64(next.State))
	if prev.State != next.State {
		c.log.Info("Broker connection state changed", "from", prev.State, "to", next.State, "event", ev.Type)
	}

	for _, eff := range effects {
		c.apply(eff)
	}
}

func (c *Connection) apply(eff Effect) {
	switch eff.Type {
	case EffectDial:
		c.dial()
	case EffectSetup:
		if c.setup() {
			c.dispatch(Event{Type: EventSetupSucceeded})
		}
	case EffectTeardown:
		c.teardown(eff.Err)
	case EffectScheduleReconnect:
		metrics.BrokerReconnectsTotal.Inc()
		c.log.Warn("Scheduling broker reconnect", "delay", eff.Delay, "attempt", c.attempt())
		c.mu.Lock()
		c.timer = c.clock.AfterFunc(eff.Delay, func() {
			c.post(Event{Type: EventRetry})
		})
		c.mu.Unlock()
	case EffectReportFatal:
		c.log.Error(eff.Err, "Broker reconnect attempts exhausted")
		c.mu.Lock()
		c.fatalErr = eff.Err
		c.mu.Unlock()
		select {
		case c.fatal <- eff.Err:
		default:
		}
	}
}

func (c *Connection) attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Attempt
}

// dial opens a session and declares the queues; a failure at either step
// counts as a failed connection attempt.
func (c *Connection) dial() {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		if c.closing.Load() {
			c.log.Debug("Dial abandoned by shutdown", "error", err)
			return
		}
		c.log.Error(err, "Failed to connect to broker")
		c.dispatch(Event{Type: EventDialFailed, Err: err})
		return
	}
	if err := sess.Declare(ctx, c.cfg.Queues...); err != nil {
		_ = sess.Close()
		if c.closing.Load() {
			return
		}
		err = fmt.Errorf("declare queues: %w", err)
		c.log.Error(err, "Failed to set up broker session")
		c.dispatch(Event{Type: EventDialFailed, Err: err})
		return
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.session = sess
	c.mu.Unlock()

	go c.watch(sess, gen)
	c.dispatch(Event{Type: EventDialSucceeded})
}

// watch turns an unexpected session loss into an EventChannelError.
func (c *Connection) watch(sess Session, gen uint64) {
	select {
	case err := <-sess.Closed():
		if c.closing.Load() {
			return
		}
		if err == nil {
			err = fmt.Errorf("session closed by peer")
		}
		c.post(Event{Type: EventChannelError, Err: err, generation: gen})
	case <-c.ctx.Done():
	}
}

// setup re-subscribes consumers and drains the outbound queue before the
// connection accepts new publishes. It reports whether the session is live.
func (c *Connection) setup() bool {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	sess := c.session
	consumers := make(map[string]Handler, len(c.consumers))
	for q, h := range c.consumers {
		consumers[q] = h
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	for q, h := range consumers {
		if err := sess.Consume(ctx, q, h); err != nil {
			c.channelError(fmt.Errorf("consume %s: %w", q, err))
			return false
		}
	}

	// A failed drain leaves the remainder queued; the next publish retries it.
	_ = c.drainLocked(c.ctx, sess)

	c.mu.Lock()
	c.live = true
	c.mu.Unlock()
	c.log.Info("Broker connection ready", "queues", c.cfg.Queues, "pending", c.outbound.Len())
	return true
}

// channelError reports a session failure noticed outside the watcher. The
// event is posted asynchronously because the caller may be the loop itself.
func (c *Connection) channelError(err error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	go c.post(Event{Type: EventChannelError, Err: err, generation: gen})
}

func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.live = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if cause != nil && !c.closing.Load() {
		c.log.Error(cause, "Broker connection lost")
	}
	if sess == nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := sess.Close(); err != nil {
			c.log.Debug("Closing broker session", "error", err)
		}
	}()
	select {
	case <-closed:
	case <-time.After(c.cfg.CloseTimeout):
		c.log.Warn("Broker session close did not finish in time", "timeout", c.cfg.CloseTimeout)
	}
}
