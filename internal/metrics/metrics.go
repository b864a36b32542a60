// Package metrics provides Prometheus metrics collection for the churn
// prediction service. It defines the inference, request, history and
// dashboard metrics exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Request metrics
	RequestDuration *prometheus.HistogramVec // HTTP handling time by route, method and status
	ErrorsTotal     *prometheus.CounterVec   // Failed requests by error kind

	// Prediction and model metrics
	PredictionsTotal   *prometheus.CounterVec // Successful predictions by label
	PredictionScores   prometheus.Histogram   // Distribution of churn probabilities
	InferenceLatency   prometheus.Histogram   // Classifier call latency in seconds
	InferenceFailures  prometheus.Counter     // Classifier faults
	InferenceInFlight  prometheus.Gauge       // Inferences currently holding a worker slot
	InferenceQueueWait prometheus.Histogram   // Time spent waiting for a worker slot
	ModelLoaded        prometheus.Gauge       // 1 once the artifact is loaded
	ModelAge           prometheus.Gauge       // Artifact age in seconds at load time

	// History and insight metrics
	HistoryWrites prometheus.Counter   // Prediction records persisted
	HistoryErrors prometheus.Counter   // Prediction records that failed to persist
	RiskTiers     *prometheus.GaugeVec // Customers per risk tier, latest prediction each
	KPIRefreshes  prometheus.Counter   // KPI recomputations (cache misses)

	// Dashboard metrics
	DashboardClients    prometheus.Gauge   // Connected websocket clients
	DashboardBroadcasts prometheus.Counter // Events sent to the hub
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of failed requests by error kind",
		}, []string{"kind"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of churn predictions by label",
		}, []string{"label"}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_scores",
			Help:    "Distribution of churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Classifier inference latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of classifier failures",
		}),
		InferenceInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_inflight",
			Help: "Inferences currently running",
		}),
		InferenceQueueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_queue_wait_seconds",
			Help:    "Time spent waiting for an inference worker",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_loaded",
			Help: "Whether the model artifact is loaded (1) or not (0)",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the model artifact in seconds when it was loaded",
		}),
		HistoryWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "history_writes_total",
			Help: "Total number of prediction records persisted",
		}),
		HistoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "history_errors_total",
			Help: "Total number of prediction records that failed to persist",
		}),
		RiskTiers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "customers_by_risk_tier",
			Help: "Customers per risk tier, using each customer's latest prediction",
		}, []string{"tier"}),
		KPIRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kpi_refreshes_total",
			Help: "Total number of KPI recomputations",
		}),
		DashboardClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_clients",
			Help: "Connected dashboard websocket clients",
		}),
		DashboardBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_broadcasts_total",
			Help: "Total number of events broadcast to dashboard clients",
		}),
	}
}

// UpdateRiskTiers sets the per-tier gauges from a tier -> count map.
func (m *Metrics) UpdateRiskTiers(counts map[string]int) {
	for tier, n := range counts {
		m.RiskTiers.WithLabelValues(tier).Set(float64(n))
	}
}
