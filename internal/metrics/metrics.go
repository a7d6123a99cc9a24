// Package metrics holds prometheus collectors of the service
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caroauth"

// Rotation and authentication outcomes
const (
	OutcomeOK              = "ok"
	OutcomeInvalidToken    = "invalid_token"
	OutcomeExpired         = "expired"
	OutcomeSubjectMismatch = "subject_mismatch"
	OutcomeAnonymous       = "anonymous"
	OutcomeRefused         = "refused"
	OutcomeError           = "error"
)

// Authentication gates
const (
	GateRequest   = "request"
	GateHandshake = "handshake"
)

type Metrics struct {
	SessionsEstablished  prometheus.Counter
	SessionRotations     *prometheus.CounterVec
	Authentications      *prometheus.CounterVec
	RefreshTokensSwept   prometheus.Counter
	SignalingConnections prometheus.Gauge

	gatherer prometheus.Gatherer
}

// Create collectors on a fresh registry with go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// Create collectors on the registerer. Handler serves nothing unless registerer is a Gatherer too
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		SessionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_established_total",
			Help:      "Sessions established on login or registration.",
		}),
		SessionRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		Authentications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Access token checks by gate and outcome.",
		}, []string{"gate", "outcome"}),
		RefreshTokensSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_swept_total",
			Help:      "Expired refresh tokens removed by the sweeper.",
		}),
		SignalingConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_connections",
			Help:      "Open call-signaling websocket connections.",
		}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m
}

// Metrics nobody reads. For tests and tools
func NewNoOp() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

// Prometheus exposition of the registry
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
