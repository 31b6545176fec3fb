// Package mqtt implements broker.Session over MQTT v5. Each queue is a QoS 1
// topic under a common root, and the client keeps a persistent session so
// messages published while it is offline are delivered after reconnecting.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/log"
)

const qos = 1

// Dialer creates MQTT sessions.
type Dialer struct {
	cfg    Config
	url    *url.URL
	topics *TopicBuilder
}

var _ broker.Dialer = (*Dialer)(nil)

// NewDialer creates a new MQTT Dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	setDefaultConfig(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}
	u, _ := url.Parse(cfg.BrokerURL) // Already validated

	return &Dialer{cfg: cfg, url: u, topics: NewTopicBuilder(cfg.TopicRoot)}, nil
}

// Dial opens the network connection and performs the MQTT handshake.
func (d *Dialer) Dial(ctx context.Context) (broker.Session, error) {
	conn, err := d.dialNet(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url.Host, err)
	}

	s := &session{
		topics:   d.topics,
		handlers: make(map[string]broker.Handler),
		closed:   make(chan error, 1),
	}

	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: d.cfg.ClientID,
		Conn:     conn,
		Session:  state.NewInMemory(),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			s.router,
		},
		OnClientError:      s.onClientError,
		OnServerDisconnect: s.onServerDisconnect,
	})

	expiry := d.cfg.SessionExpiry
	cp := &paho.Connect{
		KeepAlive:  d.cfg.KeepAlive,
		ClientID:   d.cfg.ClientID,
		CleanStart: false,
		Properties: &paho.ConnectProperties{SessionExpiryInterval: &expiry},
	}
	if d.cfg.Username != "" {
		cp.Username = d.cfg.Username
		cp.UsernameFlag = true
	}
	if d.cfg.Password != "" {
		cp.Password = []byte(d.cfg.Password)
		cp.PasswordFlag = true
	}

	ack, err := s.client.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	go s.watch()

	log.Info("MQTT session opened", "broker", d.url.Redacted(), "clientID", d.cfg.ClientID, "sessionPresent", ack.SessionPresent)
	return s, nil
}

func (d *Dialer) dialNet(ctx context.Context) (net.Conn, error) {
	host := d.url.Host
	if d.url.Port() == "" {
		port := "1883"
		if isTLS(d.url.Scheme) {
			port = "8883"
		}
		host = net.JoinHostPort(d.url.Hostname(), port)
	}

	if isTLS(d.url.Scheme) {
		td := &tls.Dialer{Config: &tls.Config{
			ServerName:         d.url.Hostname(),
			InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		}}
		return td.DialContext(ctx, "tcp", host)
	}
	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", host)
}

type session struct {
	client *paho.Client
	topics *TopicBuilder

	mu       sync.RWMutex
	handlers map[string]broker.Handler
	cause    error
	local    bool

	closeOnce sync.Once
	closed    chan error
}

// Declare is a no-op. MQTT topics exist implicitly.
func (s *session) Declare(context.Context, ...string) error {
	return nil
}

func (s *session) Publish(ctx context.Context, queue string, body []byte) error {
	_, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   s.topics.Topic(queue),
		QoS:     qos,
		Payload: body,
	})
	return err
}

func (s *session) Consume(ctx context.Context, queue string, h broker.Handler) error {
	s.mu.Lock()
	s.handlers[queue] = h
	s.mu.Unlock()

	topic := s.topics.Topic(queue)
	if _, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	log.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (s *session) Closed() <-chan error {
	return s.closed
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.local = true
		s.mu.Unlock()
		err = s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	})
	return err
}

func (s *session) watch() {
	<-s.client.Done()

	s.mu.RLock()
	local, cause := s.local, s.cause
	s.mu.RUnlock()
	if local {
		return
	}
	if cause == nil {
		cause = errors.New("mqtt connection lost")
	}
	select {
	case s.closed <- cause:
	default:
	}
}

// router dispatches a received message to the handler of its queue. Handlers
// run on the client's receive goroutine so deliveries stay in order.
func (s *session) router(p paho.PublishReceived) (bool, error) {
	queue, ok := s.topics.Queue(p.Packet.Topic)
	if !ok {
		log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
		return true, nil
	}

	s.mu.RLock()
	h := s.handlers[queue]
	s.mu.RUnlock()
	if h == nil {
		log.Debug("No consumer for queue", "queue", queue)
		return true, nil
	}

	h(p.Packet.Payload)
	return true, nil
}

func (s *session) onClientError(err error) {
	log.Error(err, "MQTT Client internal error")
	s.setCause(err)
}

func (s *session) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT Server requested disconnect", "reasonCode", d.ReasonCode, "reason", reason)
	s.setCause(fmt.Errorf("server disconnect: reason code %d %s", d.ReasonCode, reason))
}

func (s *session) setCause(err error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = err
	}
	s.mu.Unlock()
}
