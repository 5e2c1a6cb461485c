package ticketgate

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the service's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry    *prometheus.Registry
	validations *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	sessions    prometheus.Gauge
	rejections  prometheus.Counter
}

// NewMetrics registers the collectors in a fresh registry. replay, if not
// nil, is exposed as a gauge of remembered fingerprints.
func NewMetrics(replay *ReplayCache) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketgate",
			Name:      "ticket_validations_total",
			Help:      "Ticket validations by outcome.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketgate",
			Name:      "dispatches_total",
			Help:      "Dispatched messages by action and outcome.",
		}, []string{"action", "ok"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketgate",
			Name:      "sessions_active",
			Help:      "Authorized sessions currently open.",
		}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketgate",
			Name:      "handshake_rejections_total",
			Help:      "Connections refused at the handshake.",
		}),
	}
	m.registry.MustRegister(m.validations, m.dispatches, m.sessions, m.rejections)
	m.registry.MustRegister(collectors.NewGoCollector())
	if replay != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ticketgate",
			Name:      "replay_cache_entries",
			Help:      "Consumed ticket fingerprints currently remembered.",
		}, func() float64 { return float64(replay.Len()) }))
	}
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) validated(err error) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) dispatched(action string, ok bool) {
	if m == nil {
		return
	}
	if _, known := ParseAction(action); !known {
		action = "unknown"
	}
	status := "false"
	if ok {
		status = "true"
	}
	m.dispatches.WithLabelValues(action, status).Inc()
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) rejected() {
	if m != nil {
		m.rejections.Inc()
	}
}

// resultLabel keeps label cardinality bounded to the sentinel set.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Err.Error()
	}
	return "error"
}
