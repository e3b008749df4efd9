package metrics

import "github.com/prometheus/client_golang/prometheus"

// Option configures a Manager before its collectors register.
type Option func(*Manager)

// WithNamespace overrides the metric namespace (default "demandlens").
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		m.namespace = namespace
	}
}

// WithSubsystem overrides the metric subsystem (default "engine").
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		m.subsystem = subsystem
	}
}

// WithHistogramBuckets overrides the buckets used by duration histograms.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		m.histogramBuckets = buckets
	}
}

// WithRegistry registers collectors on the given registry instead of the
// Prometheus default. Tests pass a fresh registry here to avoid duplicate
// registration panics.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}
