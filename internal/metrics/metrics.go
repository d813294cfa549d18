// Package metrics exposes prometheus collectors for the story client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the client records into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	pages     *prometheus.CounterVec
	narration *prometheus.CounterVec
	polls     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picturebook",
			Name:      "service_requests_total",
			Help:      "Requests sent to the story service, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picturebook",
			Name:      "pages_rendered_total",
			Help:      "Pages rendered, by source (service or fallback).",
		}, []string{"source"}),
		narration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picturebook",
			Name:      "narrations_total",
			Help:      "Narrations started, by tier (audio or synthesis).",
		}, []string{"tier"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picturebook",
			Name:      "image_polls_total",
			Help:      "Image readiness poll ticks, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.requests, m.pages, m.narration, m.polls)
	return m
}

// Handler serves the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) Page(source string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(source).Inc()
}

func (m *Metrics) Narration(tier string) {
	if m == nil {
		return
	}
	m.narration.WithLabelValues(tier).Inc()
}

func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}
