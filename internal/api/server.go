// Package api exposes the churn prediction service over HTTP.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"churninsight/internal/cfg"
	"churninsight/internal/insights"
	"churninsight/internal/metrics"
	"churninsight/internal/ml"
	"churninsight/internal/prediction"
	"churninsight/internal/storage"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Predictor is the prediction entry point.
type Predictor interface {
	Predict(ctx context.Context, raw map[string]any) (prediction.Response, error)
	ModelInfo() ml.Descriptor
	Health() bool
}

// History reads and clears stored predictions.
type History interface {
	Recent(page, size int) (storage.Page, error)
	ByCustomer(customerID string, page, size int) (storage.Page, error)
	InRange(start, end time.Time, page, size int) (storage.Page, error)
	Clear() error
}

// Insights serves KPIs and per-customer explanations.
type Insights interface {
	KPIs() (insights.KPIs, error)
	Explain(customerID string) (insights.Explanation, error)
	Invalidate()
}

// Deps are the components the server routes to. Predictor is required; the
// history, insight and dashboard routes are only mounted when present.
type Deps struct {
	Predictor Predictor
	History   History
	Insights  Insights
	Dashboard http.Handler
	Metrics   *metrics.MetricsWrapper
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP front of the service.
type Server struct {
	settings cfg.Settings
	deps     Deps
	handler  http.Handler
	server   *http.Server
}

func NewServer(settings cfg.Settings, deps Deps) *Server {
	s := &Server{settings: settings, deps: deps}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              settings.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	// Long-lived and scrape endpoints stay outside the request metrics.
	if s.deps.Dashboard != nil {
		r.Handle("/ws", s.deps.Dashboard).Methods(http.MethodGet)
	}
	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	app := r.PathPrefix("/").Subrouter()
	app.Use(s.instrument)

	app.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	app.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	app.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	app.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)

	if s.deps.History != nil {
		app.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
		app.HandleFunc("/api/history", s.handleClearHistory).Methods(http.MethodDelete)
		// Registered before the customer route so "filter" is not taken as an id.
		app.HandleFunc("/api/history/filter", s.handleHistoryRange).Methods(http.MethodGet)
		app.HandleFunc("/api/history/{customer_id}", s.handleCustomerHistory).Methods(http.MethodGet)
	}
	if s.deps.Insights != nil {
		app.HandleFunc("/api/kpis", s.handleKPIs).Methods(http.MethodGet)
		app.HandleFunc("/api/risk-factors/{customer_id}", s.handleRiskFactors).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "NotFound", Detail: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: "MethodNotAllowed", Detail: "method not allowed"})
	})

	// Credentials are only allowed for an explicit origin list; with "*" any
	// site could make credentialed requests.
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   s.settings.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !slices.Contains(s.settings.AllowedOrigins, "*"),
		MaxAge:           300,
	})

	return corsHandler(requestLogging(recoverer(r)))
}
