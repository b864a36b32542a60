package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"churninsight/internal/exec"
	"churninsight/internal/features"
	"churninsight/internal/insights"
	"churninsight/internal/metrics"
	"churninsight/internal/prediction"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKPIs struct {
	mu  sync.Mutex
	k   insights.KPIs
	err error
}

func (s *staticKPIs) KPIs() (insights.KPIs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k, s.err
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func sampleEvent() prediction.Event {
	return prediction.Event{
		CustomerID: "c1",
		Features: features.CustomerFeatures{
			SubscriptionType:   features.SubscriptionBasic,
			WatchHours:         2,
			LastLoginDays:      50,
			NumberOfProfiles:   1,
			AvgWatchTimePerDay: 0.2,
			PaymentMethod:      features.PaymentCreditCard,
		},
		Result: exec.Result{Label: exec.WillChurn, Probability: 0.88},
		At:     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHub_InitialSnapshotAndPredictionFeed(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	src := &staticKPIs{k: insights.KPIs{TotalCustomers: 4, HighRisk: 1}}
	hub := NewHub(src, 0, []string{"*"}, metrics.NewWrapper(m))
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	first := readFrame(t, conn)
	assert.Equal(t, MessageKPIs, first.Type)
	var k insights.KPIs
	require.NoError(t, json.Unmarshal(first.Data, &k))
	assert.Equal(t, 4, k.TotalCustomers)

	waitForClients(t, hub, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DashboardClients))

	require.NoError(t, hub.OnPrediction(context.Background(), sampleEvent()))

	got := readFrame(t, conn)
	assert.Equal(t, MessagePrediction, got.Type)
	var ev PredictionEvent
	require.NoError(t, json.Unmarshal(got.Data, &ev))
	assert.Equal(t, "c1", ev.CustomerID)
	assert.Equal(t, "will_churn", ev.Label)
	assert.Equal(t, insights.RiskHigh, ev.RiskLevel)
	assert.Contains(t, ev.Recommendation, "Urgent")

	require.Eventually(t, func() bool { return testutil.ToFloat64(m.DashboardBroadcasts) == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_PeriodicKPIs(t *testing.T) {
	src := &staticKPIs{k: insights.KPIs{TotalCustomers: 2}}
	hub := NewHub(src, 20*time.Millisecond, nil, nil)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readFrame(t, conn) // initial snapshot

	src.mu.Lock()
	src.k.TotalCustomers = 9
	src.mu.Unlock()

	for i := 0; i < 10; i++ {
		f := readFrame(t, conn)
		require.Equal(t, MessageKPIs, f.Type)
		var k insights.KPIs
		require.NoError(t, json.Unmarshal(f.Data, &k))
		if k.TotalCustomers == 9 {
			return
		}
	}
	t.Fatal("updated KPI snapshot never arrived")
}

func TestHub_KPIErrorSkipsSnapshot(t *testing.T) {
	src := &staticKPIs{err: errors.New("store closed")}
	hub := NewHub(src, 0, nil, nil)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	require.NoError(t, hub.OnPrediction(context.Background(), sampleEvent()))
	assert.Equal(t, MessagePrediction, readFrame(t, conn).Type)
}

func TestHub_OriginCheck(t *testing.T) {
	hub := NewHub(&staticKPIs{}, 0, []string{"http://localhost:8080"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:8080")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	hub := NewHub(&staticKPIs{}, 0, nil, metrics.NewWrapper(m))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DashboardClients))
}

func TestHub_OnPredictionNeverBlocks(t *testing.T) {
	hub := NewHub(&staticKPIs{}, 0, nil, nil)
	// Not started: nothing drains the queue.
	var dropped int
	for i := 0; i < queueSize+5; i++ {
		if err := hub.OnPrediction(context.Background(), sampleEvent()); err != nil {
			dropped++
		}
	}
	assert.Equal(t, 5, dropped)
}

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(&staticKPIs{}, time.Second, nil, nil)

	require.NoError(t, hub.Start())
	assert.Error(t, hub.Start(), "second start must fail")
	hub.Stop()
	hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
