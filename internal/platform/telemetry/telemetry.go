// Package telemetry keeps the clinic's operational counters on a private
// Prometheus registry. There is no listener: the dashboard command writes
// the registry to a textfile for a node-exporter collector.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gynlab"

// Metrics holds the study lifecycle collectors.
type Metrics struct {
	registry  *prometheus.Registry
	mutations *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	pending   *prometheus.GaugeVec
	overdue   prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_mutations_total",
			Help:      "Study mutations applied, by path (transition, retraction, override, result, center) and resulting state.",
		}, []string{"path", "state"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_rejections_total",
			Help:      "Study operations rejected by a precondition, by operation.",
		}, []string{"operation"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "studies_pending",
			Help:      "Studies not yet delivered, by current state.",
		}, []string{"state"}),
		overdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "studies_overdue",
			Help:      "Studies sent longer ago than the overdue threshold without a result.",
		}),
	}
	m.registry.MustRegister(m.mutations, m.rejected, m.pending, m.overdue)
	return m
}

// RecordMutation counts an applied study mutation.
func (m *Metrics) RecordMutation(path, state string) {
	m.mutations.WithLabelValues(path, state).Inc()
}

// RecordRejection counts an operation refused by a precondition.
func (m *Metrics) RecordRejection(operation string) {
	m.rejected.WithLabelValues(operation).Inc()
}

// SetPending replaces the pending gauges with counts.
func (m *Metrics) SetPending(counts map[string]int) {
	m.pending.Reset()
	for state, n := range counts {
		m.pending.WithLabelValues(state).Set(float64(n))
	}
}

// SetOverdue sets the overdue gauge.
func (m *Metrics) SetOverdue(n int) {
	m.overdue.Set(float64(n))
}

// Registry exposes the underlying registry as a Gatherer.
func (m *Metrics) Registry() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the registry in text exposition format to path,
// creating the parent directory when needed.
func (m *Metrics) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
