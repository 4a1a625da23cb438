package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	functionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "functions",
			Name:      "executions_total",
			Help:      "Total number of sandboxed function executions.",
		},
		[]string{"status"},
	)

	functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "functions",
			Name:      "execution_duration_seconds",
			Help:      "Duration of sandboxed function executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	functionMemory = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "functions",
			Name:      "execution_memory_bytes",
			Help:      "Peak memory observed during function executions.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10), // 1MiB to ~1GiB
		},
	)

	gasReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "gasbank",
			Name:      "reservations_total",
			Help:      "Total number of gas reservation operations.",
		},
		[]string{"operation", "outcome"},
	)

	gasExpiredReservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "gasbank",
			Name:      "expired_reservations_total",
			Help:      "Total number of reservations expired by the sweep.",
		},
	)

	gasSweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "gasbank",
			Name:      "sweep_runs_total",
			Help:      "Total number of reservation sweep runs.",
		},
		[]string{"outcome"},
	)

	dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total number of routed envelope requests.",
		},
		[]string{"service", "operation", "success"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "Duration of routed envelope requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"service", "operation"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		functionExecutions,
		functionDuration,
		functionMemory,
		gasReservations,
		gasExpiredReservations,
		gasSweepRuns,
		dispatchRequests,
		dispatchDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordFunctionExecution records metrics for a sandboxed execution.
func RecordFunctionExecution(status string, duration time.Duration, memoryUsed uint64) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	functionExecutions.WithLabelValues(status).Inc()
	functionDuration.WithLabelValues(status).Observe(duration.Seconds())
	if memoryUsed > 0 {
		functionMemory.Observe(float64(memoryUsed))
	}
}

// RecordGasOperation records the outcome of a ledger operation such as
// "reserve" or "release".
func RecordGasOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gasReservations.WithLabelValues(operation, outcome).Inc()
}

// RecordExpiredReservations records reservations transitioned by a sweep run.
func RecordExpiredReservations(count int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gasSweepRuns.WithLabelValues(outcome).Inc()
	if count > 0 {
		gasExpiredReservations.Add(float64(count))
	}
}

// RecordDispatch records a routed envelope request.
func RecordDispatch(service, operation string, duration time.Duration, success bool) {
	if service == "" {
		service = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	result := "false"
	if success {
		result = "true"
	}
	dispatchRequests.WithLabelValues(service, operation, result).Inc()
	dispatchDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	return "/" + parts[0]
}
