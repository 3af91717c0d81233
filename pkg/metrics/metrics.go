package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_tasks_claimed_total",
			Help: "Total number of tasks claimed by type",
		},
		[]string{"type"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal outcome by type and status",
		},
		[]string{"type", "status"},
	)

	ClaimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_claim_latency_seconds",
			Help:    "Time taken to claim and dispatch a task",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_task_execution_duration_seconds",
			Help:    "Time taken to run a task's lifecycle callback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	StaleClaimsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_stale_claims_reclaimed_total",
			Help: "Total number of IN_PROGRESS tasks returned to OPEN by the stale-claim sweep",
		},
	)

	BackgroundTasksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_background_tasks_expired_total",
			Help: "Total number of BACKGROUND tasks moved to DEAD by the expiry sweep",
		},
	)

	// Ingestion pipeline metrics
	ObjectsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_objects_created_total",
			Help: "Total number of new blobs written to object storage",
		},
	)

	DedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_dedup_hits_total",
			Help: "Total number of dedup gate outcomes by shape",
		},
		[]string{"shape"}, // owned, new
	)

	IngestBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_ingest_bytes_total",
			Help: "Total bytes processed by the ingestion pipeline",
		},
	)

	FanInDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_fan_in_depth",
			Help: "Number of FanInContexts currently awaiting children",
		},
	)

	// Object storage metrics
	ObjectStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_object_store_op_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Index / rebuild metrics
	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_rebuild_duration_seconds",
			Help:    "Time taken for a full index rebuild pass",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800},
		},
	)

	RebuildBlobsScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_rebuild_blobs_scanned_total",
			Help: "Total number of blobs scanned during the most recent rebuild",
		},
	)

	// Node heartbeat metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vault_nodes_total",
			Help: "Total number of registered worker nodes by status",
		},
		[]string{"status"},
	)

	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vault_tasks_by_status",
			Help: "Current number of task rows in each status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksClaimedTotal,
		TasksCompletedTotal,
		ClaimLatency,
		TaskExecutionDuration,
		StaleClaimsReclaimed,
		BackgroundTasksExpired,
		ObjectsCreatedTotal,
		DedupHitsTotal,
		IngestBytesTotal,
		FanInDepth,
		ObjectStoreOpDuration,
		RebuildDuration,
		RebuildBlobsScanned,
		NodesTotal,
		TasksByStatus,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
