/*
 * Açaí VM Controller - Metrics
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tecflorestal/vm-controller/internal/models"
)

// Metrics collects Prometheus counters and histograms for the controller.
type Metrics struct {
	registry                 *prometheus.Registry
	phaseTransitionsTotal    *prometheus.CounterVec
	operationDurationSeconds *prometheus.HistogramVec
	providerCallsTotal       *prometheus.CounterVec
	reconciliationsTotal     *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	phaseTransitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmcontroller",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of lifecycle phase transitions.",
		},
		[]string{"from", "to"},
	)
	operationDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vmcontroller",
			Subsystem: "operation",
			Name:      "duration_seconds",
			Help:      "Time from operation acceptance to terminal result.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"kind", "result"},
	)
	providerCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmcontroller",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total provider control-plane calls.",
		},
		[]string{"call", "result"},
	)
	reconciliationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmcontroller",
			Subsystem: "lifecycle",
			Name:      "reconciliations_total",
			Help:      "Total reconciliation queries against the provider.",
		},
		[]string{"trigger", "result"},
	)

	registry.MustRegister(
		phaseTransitionsTotal,
		operationDurationSeconds,
		providerCallsTotal,
		reconciliationsTotal,
	)

	return &Metrics{
		registry:                 registry,
		phaseTransitionsTotal:    phaseTransitionsTotal,
		operationDurationSeconds: operationDurationSeconds,
		providerCallsTotal:       providerCallsTotal,
		reconciliationsTotal:     reconciliationsTotal,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPhaseTransition(from, to models.Phase) {
	if m == nil {
		return
	}
	m.phaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveOperationDuration(kind models.OperationKind, result string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.operationDurationSeconds.WithLabelValues(string(kind), result).Observe(seconds)
}

func (m *Metrics) IncProviderCall(call, result string) {
	if m == nil {
		return
	}
	m.providerCallsTotal.WithLabelValues(call, result).Inc()
}

func (m *Metrics) IncReconciliation(trigger, result string) {
	if m == nil {
		return
	}
	m.reconciliationsTotal.WithLabelValues(trigger, result).Inc()
}
