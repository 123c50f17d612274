// Package metrics exposes Prometheus collectors for the prediction
// service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors.
type Metrics struct {
	Predictions      *prometheus.CounterVec // outcome: success, decode_error, inference_error, shape_mismatch
	Detections       *prometheus.CounterVec // code
	InferenceLatency prometheus.Histogram
	RequestLatency   *prometheus.HistogramVec // route, status
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with registerer, which lets
// tests use an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retina_predictions_total",
			Help: "Prediction attempts by outcome",
		}, []string{"outcome"}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retina_detections_total",
			Help: "Diseases reported as detected, by code",
		}, []string{"code"}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retina_inference_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retina_http_request_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveInference records one model call.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatency.Observe(d.Seconds())
}

// ObserveOutcome counts a finished prediction.
func (m *Metrics) ObserveOutcome(outcome string) {
	m.Predictions.WithLabelValues(outcome).Inc()
}

// ObserveDetection counts a detected disease.
func (m *Metrics) ObserveDetection(code string) {
	m.Detections.WithLabelValues(code).Inc()
}

// ObserveRequest records an HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.RequestLatency.WithLabelValues(route, statusClass(status)).Observe(d.Seconds())
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
