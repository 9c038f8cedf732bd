package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface, the ingestion pipeline and the task scheduler.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ingestRecords   *prometheus.CounterVec
	ingestErrors    *prometheus.CounterVec
	ingestRuns      *prometheus.CounterVec
	tasksProcessed  *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	batchDuration   prometheus.Observer
	batchSize       prometheus.Observer
	rateDelay       *prometheus.CounterVec
}

// NewMetricsService registers all collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ingestRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Records created or updated by ingestion runs",
	}, []string{"category", "outcome"})

	ingestErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Per-record and per-run ingestion errors by code",
	}, []string{"category", "code"})

	ingestRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Completed ingestion runs by category",
	}, []string{"category"})

	tasksProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_processed_total",
		Help: "Tasks that reached a terminal state",
	}, []string{"type", "state"})

	taskDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Task execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Wall-clock duration of scheduler batches",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_tasks",
		Help:    "Number of tasks executed per scheduler batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	rateDelay := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_delay_seconds_total",
		Help: "Cumulative seconds spent honoring service rate limits",
	}, []string{"category"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ingestRecords, ingestErrors, ingestRuns, tasksProcessed, taskDuration, batchDuration, batchSize, rateDelay, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ingestRecords:   ingestRecords,
		ingestErrors:    ingestErrors,
		ingestRuns:      ingestRuns,
		tasksProcessed:  tasksProcessed,
		taskDuration:    taskDuration,
		batchDuration:   batchDuration,
		batchSize:       batchSize,
		rateDelay:       rateDelay,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveIngestRun records counters for a completed ingestion run.
func (m *MetricsService) ObserveIngestRun(category models.RecordCategory, created, updated int, errs []IngestError) {
	if m == nil {
		return
	}
	label := string(category)
	m.ingestRuns.WithLabelValues(label).Inc()
	m.ingestRecords.WithLabelValues(label, "created").Add(float64(created))
	m.ingestRecords.WithLabelValues(label, "updated").Add(float64(updated))
	for _, e := range errs {
		m.ingestErrors.WithLabelValues(label, e.Code).Inc()
	}
}

// ObserveTask records the terminal state and duration of a single task.
func (m *MetricsService) ObserveTask(taskType models.TaskType, state models.TaskState, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(string(taskType), string(state)).Inc()
	m.taskDuration.WithLabelValues(string(taskType)).Observe(duration.Seconds())
}

// ObserveBatch records a completed scheduler batch.
func (m *MetricsService) ObserveBatch(taskCount int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(taskCount))
	m.batchDuration.Observe(duration.Seconds())
}

// ObserveRateDelay accumulates the time slept to honor a service rate limit.
func (m *MetricsService) ObserveRateDelay(category models.ServiceCategory, delay time.Duration) {
	if m == nil {
		return
	}
	m.rateDelay.WithLabelValues(string(category)).Add(delay.Seconds())
}
