package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recorder is safe to call on
// a nil *Metrics, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Job metrics
	JobsTotal     *prometheus.CounterVec
	JobsActive    prometheus.Gauge
	JobsQueued    prometheus.Gauge
	JobDuration   *prometheus.HistogramVec
	BytesCopied   prometheus.Counter
	FileErrors    *prometheus.CounterVec
	ConflictsSeen *prometheus.CounterVec

	// Folder metrics
	FoldersLive    prometheus.Gauge
	FolderEvents   *prometheus.CounterVec
	WatcherBatches prometheus.Counter

	// Trash metrics
	TrashOps *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON stats endpoint
type Snapshot struct {
	JobsStarted   int64   `json:"jobs_started"`
	JobsFinished  int64   `json:"jobs_finished"`
	JobsFailed    int64   `json:"jobs_failed"`
	BytesCopied   int64   `json:"bytes_copied"`
	FoldersLive   int64   `json:"folders_live"`
	TotalRequests int64   `json:"total_requests"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_jobs_total",
				Help: "Jobs finished, by kind and final state",
			},
			[]string{"kind", "state"},
		),
		JobsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filer_jobs_active",
				Help: "Jobs currently executing",
			},
		),
		JobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filer_jobs_queued",
				Help: "Jobs waiting for a worker or an overlapping job",
			},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filer_job_duration_seconds",
				Help:    "Job run time in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"kind"},
		),
		BytesCopied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "filer_bytes_copied_total",
				Help: "Bytes written by copy and cross-device move",
			},
		),
		FileErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_file_errors_total",
				Help: "Per-file job errors, by error code",
			},
			[]string{"code"},
		),
		ConflictsSeen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_conflicts_total",
				Help: "Conflicts resolved, by decision",
			},
			[]string{"decision"},
		),

		FoldersLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filer_folders_live",
				Help: "Folder models with at least one subscriber",
			},
		),
		FolderEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_folder_events_total",
				Help: "Folder diff events emitted, by type",
			},
			[]string{"type"},
		),
		WatcherBatches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "filer_watcher_batches_total",
				Help: "Debounced watcher batches applied",
			},
		),

		TrashOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filer_trash_operations_total",
				Help: "Trash store operations, by operation and status",
			},
			[]string{"op", "status"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filer_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filer_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot returns the current JSON snapshot
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	m.Uptime.Set(s.UptimeSeconds)
	return s
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.mu.Unlock()
}

// RecordJobStarted marks a job leaving the queue
func (m *Metrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.JobsActive.Inc()
	m.mu.Lock()
	m.snapshot.JobsStarted++
	m.mu.Unlock()
}

// RecordJobFinished records a job reaching a terminal state. ran is false
// for jobs cancelled while still queued.
func (m *Metrics) RecordJobFinished(kind, state string, duration time.Duration, ran bool) {
	if m == nil {
		return
	}
	if ran {
		m.JobsActive.Dec()
		m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
	m.JobsTotal.WithLabelValues(kind, state).Inc()

	m.mu.Lock()
	m.snapshot.JobsFinished++
	if state == "failed" {
		m.snapshot.JobsFailed++
	}
	m.mu.Unlock()
}

// SetJobsQueued sets the queued job gauge
func (m *Metrics) SetJobsQueued(n int) {
	if m == nil {
		return
	}
	m.JobsQueued.Set(float64(n))
}

// AddBytesCopied counts bytes written by a transfer
func (m *Metrics) AddBytesCopied(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesCopied.Add(float64(n))
	m.mu.Lock()
	m.snapshot.BytesCopied += n
	m.mu.Unlock()
}

// RecordFileError counts a per-file job error
func (m *Metrics) RecordFileError(code string) {
	if m == nil {
		return
	}
	m.FileErrors.WithLabelValues(code).Inc()
}

// RecordConflict counts a conflict decision
func (m *Metrics) RecordConflict(decision string) {
	if m == nil {
		return
	}
	m.ConflictsSeen.WithLabelValues(decision).Inc()
}

// SetFoldersLive sets the number of live folder models
func (m *Metrics) SetFoldersLive(n int) {
	if m == nil {
		return
	}
	m.FoldersLive.Set(float64(n))
	m.mu.Lock()
	m.snapshot.FoldersLive = int64(n)
	m.mu.Unlock()
}

// RecordFolderEvent counts an emitted folder event
func (m *Metrics) RecordFolderEvent(eventType string) {
	if m == nil {
		return
	}
	m.FolderEvents.WithLabelValues(eventType).Inc()
}

// RecordWatcherBatch counts an applied watcher batch
func (m *Metrics) RecordWatcherBatch() {
	if m == nil {
		return
	}
	m.WatcherBatches.Inc()
}

// RecordTrashOp counts a trash store operation
func (m *Metrics) RecordTrashOp(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TrashOps.WithLabelValues(op, status).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
