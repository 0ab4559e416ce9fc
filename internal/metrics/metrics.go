// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// generateTotal counts generations by prompt kind, model and outcome
	generateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_gateway_generate_total",
		Help: "Total generation requests by prompt kind, model and outcome",
	}, []string{"kind", "model", "outcome"})

	// generateDuration tracks backend generation latency
	generateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "santa_gateway_generate_duration_seconds",
		Help:    "Generation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
	}, []string{"model"})

	// backendErrors counts backend failures by operation and error kind
	backendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_gateway_backend_errors_total",
		Help: "Total backend failures by operation and error kind",
	}, []string{"op", "kind"})

	// pullTasks tracks pull tasks by state
	pullTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "santa_gateway_pull_tasks",
		Help: "Model pull tasks by state",
	}, []string{"state"})

	// httpRequests counts HTTP requests by method and status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_gateway_http_requests_total",
		Help: "Total HTTP requests by method and status",
	}, []string{"method", "status"})
)

// ObserveGenerate records one generation attempt
func ObserveGenerate(kind, model, outcome string, elapsed time.Duration) {
	generateTotal.WithLabelValues(kind, model, outcome).Inc()
	if outcome == OutcomeSuccess {
		generateDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	}
}

// BackendError records a failed backend call
func BackendError(op, kind string) {
	backendErrors.WithLabelValues(op, kind).Inc()
}

// PullStateChanged moves one task between state gauges. from may be empty
// for a new task.
func PullStateChanged(from, to string) {
	if from != "" {
		pullTasks.WithLabelValues(from).Dec()
	}
	pullTasks.WithLabelValues(to).Inc()
}

// HTTPRequest records a served request
func HTTPRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
