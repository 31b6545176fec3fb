package relayagent

import (
	"fmt"

	"github.com/autopeer-io/skyrelay/internal/pkg/server"
	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/device"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

// deliveryBuffer bounds the deliveries waiting for the vehicle.
const deliveryBuffer = 64

// Config is the complete configuration of the relay agent process.
type Config struct {
	BrokerOptions *options.BrokerOptions
	DeviceOptions *options.DeviceOptions
	HttpOptions   *options.HttpOptions
}

// NewAgent binds the vehicle control port and prepares the broker connection.
func (cfg *Config) NewAgent() (*Agent, error) {
	dialer, err := cfg.BrokerOptions.NewDialer(options.DefaultClientID("agent"))
	if err != nil {
		return nil, fmt.Errorf("failed to init broker dialer: %w", err)
	}
	conn := broker.NewConnection(dialer, cfg.BrokerOptions.ToConnectionConfig())

	link, err := device.Open(cfg.DeviceOptions.ToConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open device link: %w", err)
	}

	var httpSrv *server.HTTPServer
	if cfg.HttpOptions != nil && cfg.HttpOptions.Addr != "" {
		httpSrv = server.NewHTTPServer(cfg.HttpOptions, conn.Ready)
	}

	return &Agent{
		conn:             conn,
		link:             link,
		worker:           NewWorker(link, conn, cfg.DeviceOptions.Timeout, deliveryBuffer),
		http:             httpSrv,
		handshakeTimeout: cfg.DeviceOptions.Timeout,
		closeTimeout:     cfg.BrokerOptions.CloseTimeout,
	}, nil
}
