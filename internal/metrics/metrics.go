// Package metrics exposes Prometheus collectors for the chat runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pocketchat/pkg/chatsync"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PersistsTotal      *prometheus.CounterVec
	ReadFallbacksTotal *prometheus.CounterVec
	TurnsTotal         *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	HTTPRequestsTotal  *prometheus.CounterVec
}

// New builds collectors on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PersistsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketchat_message_persists_total",
			Help: "Message persistence attempts by route and result",
		}, []string{"route", "result"}),
		ReadFallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketchat_transcript_read_fallbacks_total",
			Help: "Transcript loads served from the local store, by reason",
		}, []string{"reason"}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketchat_turns_total",
			Help: "Completed turns by intent and outcome",
		}, []string{"intent", "outcome"}),
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pocketchat_generation_duration_seconds",
			Help:    "Duration of text and image generation calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"intent"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pocketchat_remote_breaker_open",
			Help: "1 while the remote store circuit is open or half-open",
		}, []string{"breaker"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketchat_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePersist implements chatsync.Observer.
func (m *Metrics) ObservePersist(route chatsync.Route, result string) {
	if m == nil {
		return
	}
	m.PersistsTotal.WithLabelValues(string(route), result).Inc()
}

// ObserveReadFallback implements chatsync.Observer.
func (m *Metrics) ObserveReadFallback(reason string) {
	if m == nil {
		return
	}
	m.ReadFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(intent, outcome string, generation time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(intent, outcome).Inc()
	m.GenerationDuration.WithLabelValues(intent).Observe(generation.Seconds())
}

// ObserveBreaker records a circuit transition.
func (m *Metrics) ObserveBreaker(name, _ string, to string) {
	if m == nil {
		return
	}
	open := 0.0
	if to != "closed" {
		open = 1
	}
	m.BreakerState.WithLabelValues(name).Set(open)
}

// ObserveHTTP counts a served request.
func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
