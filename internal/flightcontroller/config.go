package flightcontroller

import (
	"fmt"
	"io"
	"os"

	"github.com/autopeer-io/skyrelay/internal/pkg/server"
	"github.com/autopeer-io/skyrelay/pkg/broker"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

// Config is the complete configuration of the flight controller process.
type Config struct {
	BrokerOptions *options.BrokerOptions
	FlightOptions *options.FlightOptions
	HttpOptions   *options.HttpOptions

	// Out receives the run report. Defaults to stdout.
	Out io.Writer
}

// NewController wires a broker connection, commander and orchestrator.
func (cfg *Config) NewController() (*Controller, error) {
	dialer, err := cfg.BrokerOptions.NewDialer(options.DefaultClientID("controller"))
	if err != nil {
		return nil, fmt.Errorf("failed to init broker dialer: %w", err)
	}
	conn := broker.NewConnection(dialer, cfg.BrokerOptions.ToConnectionConfig())

	commander, err := NewBrokerCommander(conn)
	if err != nil {
		return nil, err
	}

	orch, err := NewOrchestrator(cfg.FlightOptions, commander)
	if err != nil {
		return nil, fmt.Errorf("failed to init orchestrator: %w", err)
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var httpSrv *server.HTTPServer
	if cfg.HttpOptions != nil && cfg.HttpOptions.Addr != "" {
		httpSrv = server.NewHTTPServer(cfg.HttpOptions, conn.Ready)
	}

	return &Controller{
		conn:         conn,
		orchestrator: orch,
		http:         httpSrv,
		readyTimeout: cfg.FlightOptions.ReadyTimeout,
		closeTimeout: cfg.BrokerOptions.CloseTimeout,
		out:          out,
	}, nil
}
