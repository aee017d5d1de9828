// Package metrics exposes the detection domain's Prometheus
// collectors, grounded on the teacher's internal/metrics/collector.go
// registry pattern, retargeted from the camera/SFU control plane onto
// queries, escalations, and alerts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesSubmittedTotal counts Query Pipeline submissions by
	// resulting status (done, escalated, error).
	QueriesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intellioptics_queries_submitted_total",
		Help: "Total query submissions by resulting status",
	}, []string{"status"})

	// InferenceLatencyMS tracks the Inference Dispatcher's end-to-end
	// run latency, labeled by which stage answered (primary/oodd/none).
	InferenceLatencyMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intellioptics_inference_latency_ms",
		Help:    "Inference Dispatcher run latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"stage"})

	// EscalationsTotal counts queries forwarded to the cloud fallback
	// queue, either for low confidence or async submission.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intellioptics_escalations_total",
		Help: "Total queries escalated to the cloud fallback queue",
	})

	// AlertsDispatchedTotal counts Alert Engine dispatch attempts by
	// channel and outcome.
	AlertsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intellioptics_alerts_dispatched_total",
		Help: "Total alert dispatch attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	// CameraHealthChecksTotal counts Camera Health Inspector probe runs
	// by result, the domain's replacement for the teacher's NVR probes.
	CameraHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intellioptics_camera_health_checks_total",
		Help: "Total camera health checks by result",
	}, []string{"result"})

	// httpRequestsTotal and httpRequestDuration instrument the HTTP API
	// surface (detectors, queries, demo sessions, alert configs).
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intellioptics_http_requests_total",
		Help: "Total HTTP requests by route and status class",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intellioptics_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"route"})
)

// Handler exposes the default Prometheus registry over HTTP, mounted
// at GET /metrics by each daemon.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request-count and
// latency collectors, labeled by route pattern.
func InstrumentHandler(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		httpRequestDuration.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		httpRequestsTotal.WithLabelValues(route, statusClass(sw.status)).Inc()
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
