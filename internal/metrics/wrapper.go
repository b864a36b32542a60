package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces the model,
// executor, prediction and dashboard packages declare.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Model layer

func (w *MetricsWrapper) InferenceLatencyObserve(v float64) { w.m.InferenceLatency.Observe(v) }
func (w *MetricsWrapper) InferenceFailuresInc()             { w.m.InferenceFailures.Inc() }
func (w *MetricsWrapper) ModelAgeSet(v float64)             { w.m.ModelAge.Set(v) }

func (w *MetricsWrapper) ModelLoadedSet(loaded bool) {
	if loaded {
		w.m.ModelLoaded.Set(1)
		return
	}
	w.m.ModelLoaded.Set(0)
}

// Executor

func (w *MetricsWrapper) InFlight() MetricsGauge {
	return &GaugeWrapper{w.m.InferenceInFlight}
}

func (w *MetricsWrapper) QueueWait() MetricsHistogram {
	return &HistogramWrapper{w.m.InferenceQueueWait}
}

func (w *MetricsWrapper) Scores() MetricsHistogram {
	return &HistogramWrapper{w.m.PredictionScores}
}

// Orchestrator and transport

func (w *MetricsWrapper) PredictionsInc(label string) {
	w.m.PredictionsTotal.WithLabelValues(label).Inc()
}

func (w *MetricsWrapper) ErrorsInc(kind string) {
	w.m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) RequestDurationObserve(route, method, code string, seconds float64) {
	w.m.RequestDuration.WithLabelValues(route, method, code).Observe(seconds)
}

// History and insights

func (w *MetricsWrapper) HistoryWrites() MetricsCounter {
	return &CounterWrapper{w.m.HistoryWrites}
}

func (w *MetricsWrapper) HistoryErrors() MetricsCounter {
	return &CounterWrapper{w.m.HistoryErrors}
}

func (w *MetricsWrapper) KPIRefreshes() MetricsCounter {
	return &CounterWrapper{w.m.KPIRefreshes}
}

func (w *MetricsWrapper) UpdateRiskTiers(counts map[string]int) {
	w.m.UpdateRiskTiers(counts)
}

// Dashboard

func (w *MetricsWrapper) DashboardClients() MetricsGauge {
	return &GaugeWrapper{w.m.DashboardClients}
}

func (w *MetricsWrapper) DashboardBroadcasts() MetricsCounter {
	return &CounterWrapper{w.m.DashboardBroadcasts}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
