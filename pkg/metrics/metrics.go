package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsConsumed counts events received from the bus by topic.
var EventsConsumed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_events_consumed_total",
		Help: "Total number of events consumed from the event bus",
	},
	[]string{"topic"},
)

// EventsDropped counts events dropped by the router, by topic and reason
// (unknown_topic, invalid_payload, handler_error).
var EventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_events_dropped_total",
		Help: "Total number of events dropped before processing completed",
	},
	[]string{"topic", "reason"},
)

// PointsWritten counts time-series points persisted per series.
var PointsWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_points_written_total",
		Help: "Total number of time-series points written to the store",
	},
	[]string{"series"},
)

// PointsFailed counts points dropped after write retries were exhausted.
var PointsFailed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_points_failed_total",
		Help: "Total number of time-series points dropped after retry exhaustion",
	},
	[]string{"series"},
)

// AlertsFired counts fired alerts by rule and severity.
var AlertsFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_alerts_fired_total",
		Help: "Total number of alerts fired by the rule engine",
	},
	[]string{"rule", "severity"},
)

// AlertsSuppressed counts alert firings suppressed by cooldown.
var AlertsSuppressed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_alerts_suppressed_total",
		Help: "Total number of alert firings suppressed by cooldown",
	},
	[]string{"rule"},
)

// BroadcastsSent counts messages fanned out to subscribers per topic.
var BroadcastsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pulse_broadcasts_sent_total",
		Help: "Total number of messages delivered to subscribed clients",
	},
	[]string{"topic"},
)

// ConnectedClients tracks currently connected websocket clients by role.
var ConnectedClients = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pulse_connected_clients",
		Help: "Number of currently connected live clients",
	},
	[]string{"role"},
)

// ProcessingLatency records per-topic latency from bus receipt to the end
// of pipeline dispatch.
var ProcessingLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pulse_event_processing_latency_seconds",
		Help:    "Latency in seconds to process a single event through the pipeline",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(
		EventsConsumed, EventsDropped,
		PointsWritten, PointsFailed,
		AlertsFired, AlertsSuppressed,
		BroadcastsSent, ConnectedClients,
		ProcessingLatency,
	)
}
