// Package metrics provides Prometheus metrics for the surveillance core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the surveillance core.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Aggregation
	metricsAggregated  *prometheus.CounterVec
	detectionsRejected *prometheus.CounterVec

	// Baselines
	baselinesComputed   *prometheus.CounterVec
	baselineRecomputeMs prometheus.Histogram

	// Scoring
	observations     *prometheus.CounterVec
	scoringSkipped   *prometheus.CounterVec
	compositeScore   prometheus.Histogram
	mortalityFailure prometheus.Counter

	// Alerting
	alertTransitions *prometheus.CounterVec
	openAlerts       prometheus.Gauge

	// Batch execution
	batchDuration     prometheus.Histogram
	keyLatency        prometheus.Histogram
	keysProcessed     prometheus.Counter
	keysAborted       prometheus.Counter
	schedulingDefects prometheus.Counter
	workerActiveCount prometheus.Gauge
	queueDepth        prometheus.Gauge
	queueRejected     *prometheus.CounterVec
	notifyErrors      prometheus.Counter
	notifyPublished   prometheus.Counter
	errorsByComponent *prometheus.CounterVec
}

var (
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry
	globalManager  *Manager                   //nolint:gochecknoglobals // singleton used by Record* helpers
	globalMu       sync.RWMutex               //nolint:gochecknoglobals // guards globalManager swaps in tests
)

func init() { //nolint:gochecknoinits // global collectors must exist before first use
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Collectors are registered on the
// configured registry (prometheus.DefaultRegisterer unless overridden).
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "avisurv",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() {
	m.metricsAggregated = m.counterVec("daily_metrics_total",
		"Daily metrics produced by the aggregator", "status")
	m.detectionsRejected = m.counterVec("detections_rejected_total",
		"Detection records rejected as input defects", "reason")

	m.baselinesComputed = m.counterVec("baselines_total",
		"Baseline computations by outcome", "outcome")
	m.baselineRecomputeMs = m.histogram("baseline_recompute_duration_milliseconds",
		"Duration of a full baseline recompute pass", m.histogramBuckets)

	m.observations = m.counterVec("observations_total",
		"Anomaly observations by kind and severity", "kind", "severity")
	m.scoringSkipped = m.counterVec("scoring_skipped_total",
		"Keys not scored for a day, by reason", "reason")
	m.compositeScore = m.histogram("composite_score",
		"Distribution of composite anomaly scores", []float64{0, 10, 25, 40, 50, 60, 75, 90, 100})
	m.mortalityFailure = m.counter("mortality_feed_failures_total",
		"Mortality feed queries that failed and produced partial scores")

	m.alertTransitions = m.counterVec("alert_transitions_total",
		"Alert state machine decisions by action and alert type", "action", "type")
	m.openAlerts = m.gauge("open_alerts",
		"Alerts currently open")

	m.batchDuration = m.histogram("batch_duration_milliseconds",
		"Duration of a day batch run", m.histogramBuckets)
	m.keyLatency = m.histogram("key_processing_latency_milliseconds",
		"Per-key processing latency", m.histogramBuckets)
	m.keysProcessed = m.counter("keys_processed_total",
		"Station/species keys processed")
	m.keysAborted = m.counter("keys_aborted_total",
		"Keys left unprocessed because the batch was cancelled")
	m.schedulingDefects = m.counter("scheduling_defects_total",
		"Overlapping work detected on the same station/species key")
	m.workerActiveCount = m.gauge("worker_active_count",
		"Number of active scoring workers")
	m.queueDepth = m.gauge("queue_depth",
		"Key tasks waiting in worker queues")
	m.queueRejected = m.counterVec("queue_rejected_total",
		"Key tasks refused by a worker queue", "reason")
	m.notifyErrors = m.counter("notify_errors_total",
		"Alert notifications that failed to publish")
	m.notifyPublished = m.counter("notify_published_total",
		"Alert notifications published")
	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
}

func current() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// SetGlobal replaces the manager used by the package-level helpers and
// returns the previous one.
func SetGlobal(m *Manager) *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	prev := globalManager
	globalManager = m
	return prev
}

// RecordDailyMetric counts an aggregated daily metric ("scored" or "excluded").
func RecordDailyMetric(status string) {
	current().metricsAggregated.WithLabelValues(status).Inc()
}

// RecordDetectionRejected counts a rejected detection.
func RecordDetectionRejected(reason string) {
	current().detectionsRejected.WithLabelValues(reason).Inc()
}

// RecordBaseline counts a baseline outcome: direct, pooled, withheld or failed.
func RecordBaseline(outcome string) {
	current().baselinesComputed.WithLabelValues(outcome).Inc()
}

// RecordBaselineRecomputeDuration observes a recompute pass duration.
func RecordBaselineRecomputeDuration(ms float64) {
	current().baselineRecomputeMs.Observe(ms)
}

// RecordObservation counts an observation and tracks its score.
func RecordObservation(kind, severity string, score float64) {
	m := current()
	m.observations.WithLabelValues(kind, severity).Inc()
	m.compositeScore.Observe(score)
}

// RecordScoringSkipped counts a key/day that was not scored.
func RecordScoringSkipped(reason string) {
	current().scoringSkipped.WithLabelValues(reason).Inc()
}

// RecordMortalityFailure counts a failed mortality feed query.
func RecordMortalityFailure() {
	current().mortalityFailure.Inc()
}

// RecordAlertTransition counts an alert decision.
func RecordAlertTransition(action, alertType string) {
	current().alertTransitions.WithLabelValues(action, alertType).Inc()
}

// UpdateOpenAlerts sets the open alert gauge.
func UpdateOpenAlerts(n int) {
	current().openAlerts.Set(float64(n))
}

// RecordBatchDuration observes a day batch duration.
func RecordBatchDuration(ms float64) {
	current().batchDuration.Observe(ms)
}

// RecordKeyProcessed counts a key and observes its latency.
func RecordKeyProcessed(latencyMs float64) {
	m := current()
	m.keysProcessed.Inc()
	m.keyLatency.Observe(latencyMs)
}

// RecordKeyAborted counts a key skipped by cancellation.
func RecordKeyAborted() {
	current().keysAborted.Inc()
}

// RecordSchedulingDefect counts overlapping work on one key.
func RecordSchedulingDefect() {
	current().schedulingDefects.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(n int) {
	current().workerActiveCount.Set(float64(n))
}

// RecordQueued increments the queue depth gauge.
func RecordQueued() {
	current().queueDepth.Inc()
}

// RecordDequeued decrements the queue depth gauge.
func RecordDequeued() {
	current().queueDepth.Dec()
}

// RecordQueueRejected counts a task a queue refused.
func RecordQueueRejected(reason string) {
	current().queueRejected.WithLabelValues(reason).Inc()
}

// RecordNotifyPublished counts a published alert notification.
func RecordNotifyPublished() {
	current().notifyPublished.Inc()
}

// RecordNotifyError counts a failed alert notification.
func RecordNotifyError() {
	current().notifyErrors.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	current().errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom registry holding the global collectors.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
