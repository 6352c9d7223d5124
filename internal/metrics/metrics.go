// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handshake outcomes.
const (
	HandshakeOK          = "ok"
	HandshakeMissing     = "credential_missing"
	HandshakeInvalid     = "credential_invalid"
	HandshakeNotFound    = "identity_not_found"
	HandshakeTimeout     = "timeout"
	HandshakeError       = "error"
	HandshakeRateLimited = "rate_limited"
)

// Event outcomes.
const (
	EventAccepted = "accepted"
	EventDropped  = "dropped"
	EventInvalid  = "invalid"
)

// Collectors groups the gateway metrics.
type Collectors struct {
	Handshakes *prometheus.CounterVec
	Pushes     *prometheus.CounterVec
	Events     *prometheus.CounterVec
	StaleDrops prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. sessions reports the live registry size.
func New(reg *prometheus.Registry, sessions func() int) *Collectors {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chat_gateway",
		Name:      "sessions",
		Help:      "Users with a registered live connection.",
	}, func() float64 { return float64(sessions()) })

	return &Collectors{
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_gateway",
			Name:      "handshakes_total",
			Help:      "WebSocket handshakes by outcome.",
		}, []string{"outcome"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_gateway",
			Name:      "pushes_total",
			Help:      "onMessage pushes by party and outcome.",
		}, []string{"party", "outcome"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_gateway",
			Name:      "message_events_total",
			Help:      "Message-created events received by source and outcome.",
		}, []string{"source", "outcome"}),
		StaleDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_gateway",
			Name:      "stale_disconnects_total",
			Help:      "Disconnects that found a newer session registered for the same user.",
		}),
		gatherer: reg,
	}
}

// NewNop returns collectors on a private registry, for tests and tools.
func NewNop() *Collectors {
	return New(prometheus.NewRegistry(), func() int { return 0 })
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
