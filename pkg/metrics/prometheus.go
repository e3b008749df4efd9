// Package metrics provides Prometheus instrumentation for the demandlens
// engine: ingestion quality counters, per-stage throughput, and batch
// pipeline health. All metrics live on a custom registry so the ops endpoint
// serves only what the engine owns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the engine registers.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion quality.
	recordsIngested  prometheus.Counter
	recordsMalformed prometheus.Counter
	recordsDuplicate prometheus.Counter

	// Pipeline throughput.
	signalsEmitted    prometheus.Counter
	shocksDetected    *prometheus.CounterVec
	estimatesComputed prometheus.Counter
	estimatesSkipped  *prometheus.CounterVec
	labelsAssigned    *prometheus.CounterVec
	labelsWithheld    prometheus.Counter

	// Batch health.
	stageDuration     *prometheus.HistogramVec
	taskQueueDepth    prometheus.Gauge
	workerCount       prometheus.Gauge
	workerErrors      prometheus.Counter
	storeWriteLatency prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry so default Go runtime collectors stay out of the way.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry

func init() { //nolint:gochecknoinits // global metrics wired once at import
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "demandlens",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.register()
	return m
}

func (m *Manager) register() {
	auto := promauto.With(m.registry)

	m.recordsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_ingested_total",
		Help:      "Review records accepted by the record store",
	})
	m.recordsMalformed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_malformed_total",
		Help:      "Review records rejected at ingestion for missing or invalid fields",
	})
	m.recordsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_duplicate_total",
		Help:      "Review records ignored as duplicates of already-ingested ones",
	})

	m.signalsEmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "signals_emitted_total",
		Help:      "Product/period signals produced by the aggregator",
	})
	m.shocksDetected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "shocks_detected_total",
		Help:      "Shock events emitted by the detector",
	}, []string{"shock_type"})
	m.estimatesComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimates_computed_total",
		Help:      "Sensitivity estimates appended to the store",
	})
	m.estimatesSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimates_skipped_total",
		Help:      "Shocks that produced a skip outcome instead of an estimate",
	}, []string{"reason"})
	m.labelsAssigned = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "labels_assigned_total",
		Help:      "Resilience labels written, by label value",
	}, []string{"label"})
	m.labelsWithheld = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "labels_withheld_total",
		Help:      "Products classified without a label (tie or insufficient estimates)",
	})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each batch stage",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})
	m.taskQueueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "task_queue_depth",
		Help:      "Tasks currently waiting in the stage queue",
	})
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Workers attached to the current stage",
	})
	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Task handler errors (the batch continues; see skip outcomes)",
	})
	m.storeWriteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_write_latency_seconds",
		Help:      "Latency of outcome writes to the result store",
		Buckets:   m.histogramBuckets,
	})
}

// GetRegistry exposes the custom registry for the ops /metrics handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers on the global manager.

func RecordIngested()         { globalManager.recordsIngested.Inc() }
func RecordMalformed()        { globalManager.recordsMalformed.Inc() }
func RecordDuplicate()        { globalManager.recordsDuplicate.Inc() }
func AddSignalsEmitted(n int) { globalManager.signalsEmitted.Add(float64(n)) }

func RecordShockDetected(shockType string) {
	globalManager.shocksDetected.WithLabelValues(shockType).Inc()
}

func RecordEstimateComputed() { globalManager.estimatesComputed.Inc() }

func RecordEstimateSkipped(reason string) {
	globalManager.estimatesSkipped.WithLabelValues(reason).Inc()
}

func RecordLabelAssigned(label string) {
	globalManager.labelsAssigned.WithLabelValues(label).Inc()
}

func RecordLabelWithheld() { globalManager.labelsWithheld.Inc() }

func ObserveStageDuration(stage string, seconds float64) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func UpdateTaskQueueDepth(depth int) { globalManager.taskQueueDepth.Set(float64(depth)) }
func UpdateWorkerCount(count int)    { globalManager.workerCount.Set(float64(count)) }
func RecordWorkerError()             { globalManager.workerErrors.Inc() }

func ObserveStoreWriteLatency(seconds float64) {
	globalManager.storeWriteLatency.Observe(seconds)
}
