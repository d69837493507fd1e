// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the chat engine.
//
// Each Metrics value owns its registry so tests and multiple app instances
// never collide on the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionchat"

// Send kinds and outcomes used as label values.
const (
	KindSend  = "send"
	KindRetry = "retry"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
)

// Metrics groups every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	Sends          *prometheus.CounterVec
	Completion     prometheus.Histogram
	CatalogRefresh *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	StorageWrites  prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Message sends by kind (send, retry) and outcome.",
		}, []string{"kind", "outcome"}),
		Completion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_seconds",
			Help:      "Latency of chat completion requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		CatalogRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_total",
			Help:      "Model catalog refreshes by result.",
		}, []string{"result"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		StorageWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_total",
			Help:      "Snapshots written by the persistence mirror.",
		}),
	}

	m.registry.MustRegister(
		m.Sends,
		m.Completion,
		m.CatalogRefresh,
		m.StorageErrors,
		m.StorageWrites,
		collectors.NewGoCollector(),
	)
	return m
}

// GaugeFunc registers a gauge whose value is read on every scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveSend records the outcome of one send or retry.
func (m *Metrics) ObserveSend(kind, outcome string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(kind, outcome).Inc()
}

// ObserveCompletion records how long a completion request took.
func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.Completion.Observe(d.Seconds())
}

// ObserveRefresh records a catalog refresh result.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CatalogRefresh.WithLabelValues(result).Inc()
}

// ObserveStorageError counts a persistence failure.
func (m *Metrics) ObserveStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

// ObserveStorageWrite counts a successful snapshot write.
func (m *Metrics) ObserveStorageWrite() {
	if m == nil {
		return
	}
	m.StorageWrites.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
