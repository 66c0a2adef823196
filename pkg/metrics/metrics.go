// Package metrics holds the prometheus collectors of the graph engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spans"

// Metrics contains the engine level collectors.
type Metrics struct {
	ResolveTotal             *prometheus.CounterVec
	ValidateTotal            *prometheus.CounterVec
	MergeTotal               *prometheus.CounterVec
	MergeConnectionsDeleted  prometheus.Counter
	RepairDeletedTotal       prometheus.Counter
	OperationDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ResolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolve_total",
				Help:      "Entity resolutions by action (created, updated, unchanged, error)",
			},
			[]string{"action"},
		),
		ValidateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validate_total",
				Help:      "Connection validations by result",
			},
			[]string{"result"},
		),
		MergeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_total",
				Help:      "Span merges by status (success, error, preview)",
			},
			[]string{"status"},
		),
		MergeConnectionsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_connections_deleted_total",
				Help:      "Connections deleted by merges as self-loops or relationship-span collisions",
			},
		),
		RepairDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repair_deleted_total",
				Help:      "Spans deleted by bulk repair runs",
			},
		),
		OperationDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ResolveTotal,
		m.ValidateTotal,
		m.MergeTotal,
		m.MergeConnectionsDeleted,
		m.RepairDeletedTotal,
		m.OperationDurationSeconds,
	}
}

func (m *Metrics) ObserveResolve(action string) {
	if m == nil {
		return
	}
	m.ResolveTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveValidate(result string) {
	if m == nil {
		return
	}
	m.ValidateTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMerge(status string, deletedConnections int) {
	if m == nil {
		return
	}
	m.MergeTotal.WithLabelValues(status).Inc()
	if deletedConnections > 0 {
		m.MergeConnectionsDeleted.Add(float64(deletedConnections))
	}
}

func (m *Metrics) ObserveRepairDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RepairDeletedTotal.Add(float64(n))
}

// ObserveDuration records the time elapsed since start.
func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
