package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every skyrelay metric. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// BrokerConnectionState mirrors the broker connection state machine.
	// 0 = Disconnected, 1 = Connecting, 2 = Connected
	BrokerConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyrelay_broker_connection_state",
			Help: "Broker connection state (0=Disconnected, 1=Connecting, 2=Connected).",
		},
	)

	// BrokerReconnectsTotal counts scheduled reconnect attempts.
	BrokerReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyrelay_broker_reconnects_total",
			Help: "Total number of reconnect attempts scheduled after a broker failure.",
		},
	)

	// OutboundQueueDepth is the number of messages waiting for the broker.
	OutboundQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyrelay_outbound_queue_depth",
			Help: "Messages buffered locally until the broker accepts them.",
		},
	)

	// PublishedTotal counts publish attempts by queue and result.
	PublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrelay_published_total",
			Help: "Broker publish attempts.",
		},
		[]string{"queue", "result"}, // result: accepted/queued
	)

	// CommandAttemptsTotal counts orchestrator command attempts by outcome.
	CommandAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrelay_command_attempts_total",
			Help: "Command attempts issued by the flight controller.",
		},
		[]string{"verb", "outcome"}, // outcome: ok/recoverable/unrecoverable
	)

	// FlightStage is 1 for the stage the flight is currently in.
	FlightStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skyrelay_flight_stage",
			Help: "Current flight stage (1 for the active stage).",
		},
		[]string{"stage"},
	)

	// RelayedTotal counts commands relayed to the vehicle by result.
	RelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrelay_relayed_total",
			Help: "Commands relayed from the broker to the vehicle.",
		},
		[]string{"verb", "result"}, // result: reply/timeout/invalid/send_error
	)

	// DeviceExchangeLatency records the round trip of a UDP exchange.
	DeviceExchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyrelay_device_exchange_seconds",
			Help:    "Latency of request/response exchanges with the vehicle.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"verb"},
	)

	// DeviceDiscardedTotal counts datagrams ignored because of their source port.
	DeviceDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyrelay_device_discarded_datagrams_total",
			Help: "Datagrams dropped because they did not come from the vehicle control port.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BrokerConnectionState,
		BrokerReconnectsTotal,
		OutboundQueueDepth,
		PublishedTotal,
		CommandAttemptsTotal,
		FlightStage,
		RelayedTotal,
		DeviceExchangeLatency,
		DeviceDiscardedTotal,
	)
}
