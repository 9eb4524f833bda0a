package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "realestate360",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realestate360",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "realestate360",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	appointmentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realestate360",
			Subsystem: "appointments",
			Name:      "mutations_total",
			Help:      "Appointment pair mutations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	estimatorRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "realestate360",
			Subsystem: "estimator",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time of price estimation processes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11),
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		appointmentTransitions,
		estimatorRuns,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request metrics.
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAppointmentMutation counts one appointment pair mutation.
func RecordAppointmentMutation(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	appointmentTransitions.WithLabelValues(action, outcome).Inc()
}

// RecordEstimatorRun observes one estimator process run.
func RecordEstimatorRun(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	estimatorRuns.WithLabelValues(outcome).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses ids and emails out of paths to bound label cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "properties":
		if len(parts) >= 2 && parts[1] != "upload" {
			parts[1] = ":id"
		}
	case "appointments":
		if len(parts) >= 2 && parts[1] != "user" && parts[1] != "owner" && parts[1] != "migrate-roles" {
			parts[1] = ":id"
		}
	case "users":
		if len(parts) >= 3 && parts[1] == "profile" {
			parts[2] = ":email"
		}
	case "auth", "api", "feedback", "health", "healthz":
	default:
		return "/other"
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
