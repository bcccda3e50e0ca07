// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every fleetwatch collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// BusSubscribers is the current number of registered subscribers.
	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_bus_subscribers",
			Help: "Number of subscribers currently registered on the event bus.",
		},
	)

	// BusEventsTotal counts broadcasts.
	BusEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_bus_events_total",
			Help: "Total number of telemetry events broadcast on the bus.",
		},
	)

	// BusDeliveriesTotal counts per-subscriber delivery outcomes.
	BusDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_bus_deliveries_total",
			Help: "Per-subscriber delivery attempts by result.",
		},
		[]string{"result"}, // delivered, dropped
	)

	// StreamSessionsActive is the number of open stream sessions.
	StreamSessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_stream_sessions_active",
			Help: "Number of open stream sessions by transport.",
		},
		[]string{"transport"}, // sse, ws
	)

	// StreamSessionsClosedTotal counts session closes.
	StreamSessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_stream_sessions_closed_total",
			Help: "Total number of closed stream sessions by reason.",
		},
		[]string{"reason"},
	)

	// StreamHeartbeatsTotal counts heartbeat writes.
	StreamHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_stream_heartbeats_total",
			Help: "Heartbeat sentinel writes by result.",
		},
		[]string{"result"}, // ok, failed
	)

	// IngressRequestsTotal counts telemetry submissions.
	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_ingress_requests_total",
			Help: "Telemetry submissions by source and outcome.",
		},
		[]string{"source", "outcome"}, // source: http/mqtt; outcome: accepted/invalid/failed
	)

	// IngressLatency records submission handling time.
	IngressLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_ingress_latency_seconds",
			Help:    "Time to validate and broadcast a telemetry submission.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// ReconcilerState is 1 for the reconciler's current state, 0 otherwise.
	ReconcilerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_reconciler_state",
			Help: "Current viewer reconciler state (1 = active).",
		},
		[]string{"state"},
	)

	// ReconcilerReconnectsTotal counts reconnect cycles.
	ReconcilerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_reconciler_reconnects_total",
			Help: "Reconnect cycles by result.",
		},
		[]string{"result"}, // ok, failed
	)

	// ReconcilerConnected is 1 while the reconciler holds a live stream.
	ReconcilerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_reconciler_connected",
			Help: "Whether the viewer reconciler is connected to the stream.",
		},
	)

	// ReconcilerEventsTotal counts telemetry frames seen by the reconciler.
	ReconcilerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_reconciler_events_total",
			Help: "Telemetry events received by the viewer reconciler by result.",
		},
		[]string{"result"}, // applied, dropped
	)

	// ReconcilerNotificationsTotal counts derived notifications.
	ReconcilerNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_reconciler_notifications_total",
			Help: "Notifications raised by the viewer reconciler by driver state.",
		},
		[]string{"state"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BusSubscribers,
		BusEventsTotal,
		BusDeliveriesTotal,
		StreamSessionsActive,
		StreamSessionsClosedTotal,
		StreamHeartbeatsTotal,
		IngressRequestsTotal,
		IngressLatency,
		ReconcilerState,
		ReconcilerReconnectsTotal,
		ReconcilerConnected,
		ReconcilerEventsTotal,
		ReconcilerNotificationsTotal,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
