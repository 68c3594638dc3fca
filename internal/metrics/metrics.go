// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for connection counts, counters for message outcomes, and a
// histogram for end-to-end routing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of open WebSocket
	// connections, joined or not.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Current number of open WebSocket connections",
	})

	// SessionsJoined tracks the current number of authenticated sessions,
	// which equals the Presence Directory size.
	SessionsJoined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_joined",
		Help: "Current number of authenticated (joined) sessions",
	})

	// MessagesTotal counts processed message events by outcome:
	// "delivered", "blocked" (moderation), "denied" (authorization),
	// "rejected" (payload validation), "rate_limited", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of message events processed, by outcome",
	}, []string{"outcome"})

	// FanoutDeliveries counts individual recipient deliveries, labeled by
	// context ("private" or "group").
	FanoutDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_fanout_deliveries_total",
		Help: "Total number of per-recipient deliveries",
	}, []string{"context"})

	// RouteLatency records the moderation-to-fan-out latency per message.
	RouteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_route_latency_seconds",
		Help:    "Message routing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// Suspensions counts suspension windows opened by the moderation
	// engine, labeled "fixed" or "permanent".
	Suspensions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_suspensions_total",
		Help: "Total number of account suspensions applied",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SessionsJoined,
		MessagesTotal,
		FanoutDeliveries,
		RouteLatency,
		Suspensions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
