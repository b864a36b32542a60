package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestWrapper() (*Metrics, *MetricsWrapper) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	return m, NewWrapper(m)
}

func TestNewWrapper(t *testing.T) {
	m, wrapper := newTestWrapper()

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != m {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two registries must not collide on metric names.
	NewWithRegistry(prometheus.NewRegistry())
	NewWithRegistry(prometheus.NewRegistry())
}

func TestMetricsWrapper_ModelMethods(t *testing.T) {
	m, wrapper := newTestWrapper()

	wrapper.ModelLoadedSet(true)
	if v := testutil.ToFloat64(m.ModelLoaded); v != 1 {
		t.Errorf("Expected model_loaded 1, got %f", v)
	}
	wrapper.ModelLoadedSet(false)
	if v := testutil.ToFloat64(m.ModelLoaded); v != 0 {
		t.Errorf("Expected model_loaded 0, got %f", v)
	}

	wrapper.ModelAgeSet(3600)
	if v := testutil.ToFloat64(m.ModelAge); v != 3600 {
		t.Errorf("Expected model age 3600, got %f", v)
	}

	wrapper.InferenceFailuresInc()
	wrapper.InferenceFailuresInc()
	if v := testutil.ToFloat64(m.InferenceFailures); v != 2 {
		t.Errorf("Expected 2 failures, got %f", v)
	}

	wrapper.InferenceLatencyObserve(0.002)
	if n := testutil.CollectAndCount(m.InferenceLatency); n != 1 {
		t.Errorf("Expected one latency series, got %d", n)
	}
}

func TestMetricsWrapper_PredictionsByLabel(t *testing.T) {
	m, wrapper := newTestWrapper()

	wrapper.PredictionsInc("will_churn")
	wrapper.PredictionsInc("will_churn")
	wrapper.PredictionsInc("will_continue")

	if v := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("will_churn")); v != 2 {
		t.Errorf("Expected 2 will_churn, got %f", v)
	}
	if v := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("will_continue")); v != 1 {
		t.Errorf("Expected 1 will_continue, got %f", v)
	}

	wrapper.ErrorsInc("ValidationError")
	if v := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("ValidationError")); v != 1 {
		t.Errorf("Expected 1 validation error, got %f", v)
	}
}

func TestMetricsWrapper_GaugeOperations(t *testing.T) {
	m, wrapper := newTestWrapper()

	inFlight := wrapper.InFlight()
	inFlight.Add(1)
	inFlight.Add(1)
	inFlight.Add(-1)
	if v := testutil.ToFloat64(m.InferenceInFlight); v != 1 {
		t.Errorf("Expected 1 in flight, got %f", v)
	}

	clients := wrapper.DashboardClients()
	clients.Set(5)
	if v := testutil.ToFloat64(m.DashboardClients); v != 5 {
		t.Errorf("Expected 5 clients, got %f", v)
	}
}

func TestMetricsWrapper_HistogramOperations(t *testing.T) {
	m, wrapper := newTestWrapper()

	for _, score := range []float64{0.05, 0.5, 0.95} {
		wrapper.Scores().Observe(score)
	}
	wrapper.QueueWait().Observe(0.001)

	if n := testutil.CollectAndCount(m.PredictionScores); n != 1 {
		t.Errorf("Expected one score series, got %d", n)
	}
	if n := testutil.CollectAndCount(m.InferenceQueueWait); n != 1 {
		t.Errorf("Expected one queue wait series, got %d", n)
	}
}

func TestMetricsWrapper_UpdateRiskTiers(t *testing.T) {
	m, wrapper := newTestWrapper()

	wrapper.UpdateRiskTiers(map[string]int{"high": 3, "medium": 2, "low": 0})

	if v := testutil.ToFloat64(m.RiskTiers.WithLabelValues("high")); v != 3 {
		t.Errorf("Expected 3 high-risk customers, got %f", v)
	}
	if v := testutil.ToFloat64(m.RiskTiers.WithLabelValues("low")); v != 0 {
		t.Errorf("Expected 0 low-risk customers, got %f", v)
	}
}

func TestMetricsWrapper_RequestDuration(t *testing.T) {
	m, wrapper := newTestWrapper()

	wrapper.RequestDurationObserve("/predict", "POST", "200", 0.01)
	wrapper.RequestDurationObserve("/health", "GET", "200", 0.001)

	if n := testutil.CollectAndCount(m.RequestDuration); n != 2 {
		t.Errorf("Expected 2 request series, got %d", n)
	}
}

func TestCounterWrapper_DirectUsage(t *testing.T) {
	m, wrapper := newTestWrapper()

	wrapper.HistoryWrites().Inc()
	wrapper.HistoryErrors().Inc()
	wrapper.KPIRefreshes().Inc()
	wrapper.DashboardBroadcasts().Inc()

	for name, c := range map[string]prometheus.Counter{
		"history_writes": m.HistoryWrites,
		"history_errors": m.HistoryErrors,
		"kpi_refreshes":  m.KPIRefreshes,
		"broadcasts":     m.DashboardBroadcasts,
	} {
		if v := testutil.ToFloat64(c); v != 1 {
			t.Errorf("Expected %s 1, got %f", name, v)
		}
	}
}

func TestMetricsWrapper_ConcurrentAccess(t *testing.T) {
	m, wrapper := newTestWrapper()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				wrapper.PredictionsInc("will_churn")
				wrapper.Scores().Observe(0.7)
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * perGoroutine)
	if v := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("will_churn")); v != want {
		t.Errorf("Expected %f predictions, got %f", want, v)
	}
}
