// Package metrics exposes Prometheus instrumentation for the connection
// lifecycle. Collectors are only registered when the consumer supplies a
// Registerer; the default is unregistered no-cost counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the connection lifecycle collectors.
type Metrics struct {
	Reconnects     prometheus.Counter
	FramesRouted   prometheus.Counter
	FramesDropped  prometheus.Counter
	CommandRetries prometheus.Counter
	FetchCycles    prometheus.Counter
	ConnectionUp   prometheus.Gauge
}

// New creates the collectors and, if reg is non-nil, registers them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartrent_websocket_reconnects_total",
			Help: "Websocket connection attempts after a failure.",
		}),
		FramesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartrent_frames_routed_total",
			Help: "Inbound attribute events routed to the device registry.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartrent_frames_dropped_total",
			Help: "Inbound frames dropped as malformed or non-attribute.",
		}),
		CommandRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartrent_command_retries_total",
			Help: "Outbound commands retried after a token refresh.",
		}),
		FetchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartrent_fetch_cycles_total",
			Help: "Periodic full-state HTTP fetch cycles.",
		}),
		ConnectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartrent_websocket_up",
			Help: "1 while the websocket connection is live.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Reconnects,
			m.FramesRouted,
			m.FramesDropped,
			m.CommandRetries,
			m.FetchCycles,
			m.ConnectionUp,
		)
	}
	return m
}
