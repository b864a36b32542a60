// Package dashboard streams live churn activity to browser dashboards.
// Every successful prediction is pushed to connected WebSocket clients as it
// happens, and a KPI snapshot is broadcast on a fixed interval.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"churninsight/internal/insights"
	"churninsight/internal/metrics"
	"churninsight/internal/prediction"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	MessagePrediction = "prediction"
	MessageKPIs       = "kpis"

	writeTimeout = 10 * time.Second
	queueSize    = 100
)

var errQueueFull = errors.New("dashboard broadcast queue is full")

// Message is the envelope every client frame uses.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// PredictionEvent is the live feed entry for one prediction.
type PredictionEvent struct {
	CustomerID     string             `json:"customer_id"`
	Label          string             `json:"label"`
	Probability    float64            `json:"probability"`
	RiskLevel      insights.RiskLevel `json:"risk_level"`
	Recommendation string             `json:"recommendation"`
	PredictedAt    time.Time          `json:"predicted_at"`
}

// KPISource supplies the periodic snapshot.
type KPISource interface {
	KPIs() (insights.KPIs, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla connections allow one concurrent writer
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans messages out to connected dashboard clients.
type Hub struct {
	kpis             KPISource
	interval         time.Duration
	metrics          *metrics.MetricsWrapper
	upgrader         websocket.Upgrader
	clients          map[*client]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan Message
	stopChannel      chan struct{}
	isRunning        bool
	mu               sync.Mutex
}

// NewHub creates a hub. allowedOrigins follows the CORS list; "*" admits any.
func NewHub(src KPISource, interval time.Duration, allowedOrigins []string, m *metrics.MetricsWrapper) *Hub {
	h := &Hub{
		kpis:             src,
		interval:         interval,
		metrics:          m,
		clients:          make(map[*client]bool),
		broadcastChannel: make(chan Message, queueSize),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Start launches the KPI ticker and the broadcaster.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRunning {
		return errors.New("dashboard hub is already running")
	}

	h.stopChannel = make(chan struct{})
	if h.interval > 0 {
		go h.kpiCollector(h.stopChannel)
	}
	go h.clientBroadcaster(h.stopChannel)

	h.isRunning = true
	log.Info().Dur("interval", h.interval).Msg("Dashboard hub started")
	return nil
}

// Stop halts the goroutines and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isRunning {
		return
	}
	close(h.stopChannel)

	h.clientsMu.Lock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
	h.clientsMu.Unlock()
	if h.metrics != nil {
		h.metrics.DashboardClients().Set(0)
	}

	h.isRunning = false
	log.Info().Msg("Dashboard hub stopped")
}

// Run starts the hub and stops it when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	h.Stop()
	return nil
}

// OnPrediction queues a live event. It never blocks the request path; when the
// queue is full the event is dropped.
func (h *Hub) OnPrediction(_ context.Context, ev prediction.Event) error {
	level := insights.LevelFor(ev.Result.Probability)
	return h.enqueue(Message{
		Type:      MessagePrediction,
		Timestamp: time.Now().UTC(),
		Data: PredictionEvent{
			CustomerID:     ev.CustomerID,
			Label:          string(ev.Result.Label),
			Probability:    ev.Result.Probability,
			RiskLevel:      level,
			Recommendation: insights.Recommendation(ev.Features, level),
			PredictedAt:    ev.At,
		},
	})
}

func (h *Hub) enqueue(msg Message) error {
	select {
	case h.broadcastChannel <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) kpiCollector(stop <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			msg, err := h.kpiMessage()
			if err != nil {
				log.Warn().Err(err).Msg("KPI snapshot failed")
				continue
			}
			if err := h.enqueue(msg); err != nil {
				log.Debug().Err(err).Msg("KPI snapshot skipped")
			}
		case <-stop:
			return
		}
	}
}

func (h *Hub) kpiMessage() (Message, error) {
	k, err := h.kpis.KPIs()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageKPIs, Timestamp: time.Now().UTC(), Data: k}, nil
}

func (h *Hub) clientBroadcaster(stop <-chan struct{}) {
	for {
		select {
		case msg := <-h.broadcastChannel:
			h.broadcastToClients(msg)
		case <-stop:
			return
		}
	}
}

func (h *Hub) broadcastToClients(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal dashboard message")
		return
	}

	h.clientsMu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			log.Debug().Err(err).Msg("Dropping dashboard client")
			h.remove(c)
		}
	}
	if h.metrics != nil {
		h.metrics.DashboardBroadcasts().Inc()
	}
}

func (h *Hub) add(c *client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()
	if h.metrics != nil {
		h.metrics.DashboardClients().Add(1)
	}
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.clientsMu.Unlock()
	c.conn.Close()
	if ok && h.metrics != nil {
		h.metrics.DashboardClients().Add(-1)
	}
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
// New clients get a KPI snapshot immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade dashboard connection")
		return
	}

	c := &client{conn: conn}
	h.add(c)
	defer h.remove(c)

	if msg, err := h.kpiMessage(); err == nil {
		if data, err := json.Marshal(msg); err == nil {
			c.write(data)
		}
	}

	// Reads only detect disconnects; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
