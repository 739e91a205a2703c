// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the search engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	pages          *prometheus.CounterVec
	chunks         *prometheus.CounterVec
	verdicts       *prometheus.CounterVec
	detailFailures prometheus.Counter
	evictions      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookbuddy",
			Subsystem: "search",
			Name:      "pages_total",
			Help:      "Search pages assembled, by outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookbuddy",
			Subsystem: "search",
			Name:      "upstream_chunks_total",
			Help:      "Upstream chunk fetches, by result.",
		}, []string{"result"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookbuddy",
			Subsystem: "search",
			Name:      "validation_verdicts_total",
			Help:      "Candidate identifiers by validation verdict.",
		}, []string{"verdict"}),
		detailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookbuddy",
			Subsystem: "search",
			Name:      "detail_lookup_failures_total",
			Help:      "Detail lookups that failed and were dropped from a page.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookbuddy",
			Subsystem: "search",
			Name:      "session_evictions_total",
			Help:      "Search sessions evicted for idleness.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pages, m.chunks, m.verdicts, m.detailFailures, m.evictions)
	}
	return m
}

// RegisterSessionGauge exports the live session count of store.
func RegisterSessionGauge(reg prometheus.Registerer, store *Store) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "bookbuddy",
		Subsystem: "search",
		Name:      "sessions",
		Help:      "Search sessions currently registered.",
	}, func() float64 { return float64(store.Len()) }))
}

func (m *Metrics) page(outcome string) {
	if m != nil {
		m.pages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) chunk(result string) {
	if m != nil {
		m.chunks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) verdict(verdict string, n int) {
	if m != nil && n > 0 {
		m.verdicts.WithLabelValues(verdict).Add(float64(n))
	}
}

func (m *Metrics) detailFailed() {
	if m != nil {
		m.detailFailures.Inc()
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}
