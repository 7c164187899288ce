package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for discovery and sync runs.
type Metrics struct {
	config MetricsConfig

	syncsTotal         *prometheus.CounterVec
	syncDuration       *prometheus.HistogramVec
	discoveredEntities *prometheus.GaugeVec
	reconcileChanges   *prometheus.CounterVec
	needsAssignment    *prometheus.GaugeVec
	errorsByClass      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a collector whose methods are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		syncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_total",
				Help:      "Total number of provider syncs by outcome",
			},
			[]string{"provider", "kind", "status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of provider syncs in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "kind"},
		),
		discoveredEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "discovered_entities",
				Help:      "Entities returned by the last discovery, by role",
			},
			[]string{"provider", "role"},
		),
		reconcileChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_changes_total",
				Help:      "Entity changes applied by the reconciler",
			},
			[]string{"provider", "entity", "action"},
		),
		needsAssignment: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_needing_assignment",
				Help:      "State-backend resources discovered without a resolvable group",
			},
			[]string{"provider"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of sync errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.syncsTotal,
		m.syncDuration,
		m.discoveredEntities,
		m.reconcileChanges,
		m.needsAssignment,
		m.errorsByClass,
	)

	return m, nil
}

// RecordSync records a finished sync with its outcome and duration.
func (m *Metrics) RecordSync(provider, kind, status string, duration time.Duration) {
	if m.syncsTotal == nil {
		return
	}
	m.syncsTotal.WithLabelValues(provider, kind, status).Inc()
	m.syncDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// SetDiscovered sets the number of entities of a role found by the last discovery.
func (m *Metrics) SetDiscovered(provider, role string, count int) {
	if m.discoveredEntities == nil {
		return
	}
	m.discoveredEntities.WithLabelValues(provider, role).Set(float64(count))
}

// RecordChanges adds n reconcile changes for an entity kind and action.
func (m *Metrics) RecordChanges(provider, entity, action string, n int) {
	if m.reconcileChanges == nil || n == 0 {
		return
	}
	m.reconcileChanges.WithLabelValues(provider, entity, action).Add(float64(n))
}

// SetNeedsAssignment sets the number of unassigned resources for a provider.
func (m *Metrics) SetNeedsAssignment(provider string, count int) {
	if m.needsAssignment == nil {
		return
	}
	m.needsAssignment.WithLabelValues(provider).Set(float64(count))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
