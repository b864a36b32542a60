// Command churnd serves churn predictions over HTTP.
//
// The model artifact is read from MODEL_PATH (default models/churn_model.json,
// a linear model bundled with the repository, resolved against the working
// directory). Point it at a .pkl, .joblib or .onnx file to serve a trained
// pipeline through the Python helper; PYTHON_PATH selects the interpreter.
// Startup aborts when the artifact cannot be loaded.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churninsight/internal/api"
	"churninsight/internal/cfg"
	"churninsight/internal/dashboard"
	"churninsight/internal/exec"
	"churninsight/internal/insights"
	"churninsight/internal/metrics"
	"churninsight/internal/ml"
	"churninsight/internal/prediction"
	"churninsight/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	// The model must be ready before any traffic is accepted.
	manager := initializeModel(ctx, c, mw)
	defer manager.Close()

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("history store initialization failed")
	}
	defer store.Close()

	engine := insights.New(store, c.KPICacheTTL, mw)
	hub := dashboard.NewHub(engine, c.DashboardInterval, c.AllowedOrigins, mw)

	exe := exec.New(c, manager, mw)
	svc := prediction.NewService(manager, exe,
		prediction.WithMetrics(mw),
		prediction.WithObserver(engine),
		prediction.WithObserver(hub),
	)

	server := api.NewServer(c, api.Deps{
		Predictor: svc,
		History:   store,
		Insights:  engine,
		Dashboard: hub,
		Metrics:   mw,
		Gatherer:  prometheus.DefaultGatherer,
	})

	log.Info().
		Str("app", c.AppName).
		Str("version", c.AppVersion).
		Str("addr", c.Addr()).
		Int("inference_workers", exe.Workers()).
		Msg("service ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeModel loads the artifact or exits. A service without a model
// never reaches the ready state.
func initializeModel(ctx context.Context, c cfg.Settings, mw *metrics.MetricsWrapper) *ml.Manager {
	manager := ml.NewManager(
		ml.WithMetrics(mw),
		ml.WithPython(c.PythonPath, c.InferenceTimeout),
	)

	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := manager.Load(loadCtx, c.ModelPath); err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model load failed")
	}
	return manager
}
