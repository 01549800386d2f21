// Package metrics provides Prometheus metrics for the AutoScale
// measurement pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus collectors for the service.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  prometheus.Registerer

	// Ingest
	eventsIngested  prometheus.Counter
	ingestRejected  *prometheus.CounterVec
	samplesIngested prometheus.Counter

	// Jobs
	jobsClaimed prometheus.Counter
	jobsDone    prometheus.Counter
	jobsFailed  prometheus.Counter
	jobsEmpty   prometheus.Counter
	queueDepth  prometheus.Gauge

	// Detection
	detectionsByMode    *prometheus.CounterVec
	consensusRefined    prometheus.Counter
	consensusPreserved  prometheus.Counter
	detectLatency       prometheus.Histogram
	processBatchLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Workers
	workerCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "autoscale",
		subsystem: "pipeline",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "events_ingested_total",
		Help: "Total number of weighing events accepted at ingest",
	})
	m.ingestRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_rejected_total",
		Help: "Total number of rejected ingest requests by reason",
	}, []string{"reason"})
	m.samplesIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "samples_ingested_total",
		Help: "Total number of raw samples accepted at ingest",
	})

	m.jobsClaimed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_claimed_total",
		Help: "Total number of jobs claimed by workers",
	})
	m.jobsDone = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_done_total",
		Help: "Total number of jobs finished successfully",
	})
	m.jobsFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_failed_total",
		Help: "Total number of jobs that ended in failure",
	})
	m.jobsEmpty = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_empty_total",
		Help: "Total number of jobs closed because the event had no samples",
	})
	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "queue_depth",
		Help: "Current number of pending jobs",
	})

	m.detectionsByMode = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "detections_total",
		Help: "Total number of detector runs by result mode",
	}, []string{"mode"})
	m.consensusRefined = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "consensus_refined_total",
		Help: "Total number of detections refined by the consensus stage",
	})
	m.consensusPreserved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "consensus_preserved_total",
		Help: "Total number of detections left untouched by the consensus stage",
	})
	m.detectLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "detect_latency_milliseconds",
		Help:    "Histogram of plateau-detector latency in milliseconds",
		Buckets: m.buckets,
	})
	m.processBatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "process_batch_latency_milliseconds",
		Help:    "Histogram of worker batch latency in milliseconds",
		Buckets: m.buckets,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.buckets,
	}, []string{"endpoint", "method", "status_code"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "worker_count",
		Help: "Current number of workers in the pool",
	})
}

// GetRegistry returns the registry backing the global manager, for
// serving /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers against the global manager.

func RecordEventIngested(sampleCount int) {
	globalManager.eventsIngested.Inc()
	globalManager.samplesIngested.Add(float64(sampleCount))
}

func RecordIngestRejected(reason string) {
	globalManager.ingestRejected.WithLabelValues(reason).Inc()
}

func RecordJobsClaimed(n int) { globalManager.jobsClaimed.Add(float64(n)) }
func RecordJobDone()          { globalManager.jobsDone.Inc() }
func RecordJobFailed()        { globalManager.jobsFailed.Inc() }
func RecordJobEmpty()         { globalManager.jobsEmpty.Inc() }

func UpdateQueueDepth(n int)  { globalManager.queueDepth.Set(float64(n)) }
func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }

func RecordDetection(mode string) { globalManager.detectionsByMode.WithLabelValues(mode).Inc() }
func RecordConsensusRefined()     { globalManager.consensusRefined.Inc() }
func RecordConsensusPreserved()   { globalManager.consensusPreserved.Inc() }

func RecordDetectLatency(ms float64)       { globalManager.detectLatency.Observe(ms) }
func RecordProcessBatchLatency(ms float64) { globalManager.processBatchLatency.Observe(ms) }

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}
