// Package prediction composes validation, model readiness, inference and
// response shaping into the single entry point the transport calls.
package prediction

import (
	"context"
	"errors"
	"strings"
	"time"

	"churninsight/internal/apperr"
	"churninsight/internal/exec"
	"churninsight/internal/features"
	"churninsight/internal/ml"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ModelState is the read side of the model lifecycle.
type ModelState interface {
	IsLoaded() bool
	Describe() ml.Descriptor
}

// Runner scores validated features.
type Runner interface {
	Run(ctx context.Context, f features.CustomerFeatures) (exec.Result, error)
}

// Metrics counts request outcomes.
type Metrics interface {
	PredictionsInc(label string)
	ErrorsInc(kind string)
}

// Response is the successful prediction payload.
type Response struct {
	CustomerID string      `json:"customer_id"`
	Prediction exec.Result `json:"prediction"`
}

// Event describes one successful prediction for observers.
type Event struct {
	CustomerID string
	Features   features.CustomerFeatures
	Result     exec.Result
	At         time.Time
}

// Observer is notified after every successful prediction. Its error is
// logged and never changes the response.
type Observer interface {
	OnPrediction(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) OnPrediction(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Service is constructed once at startup and shared by all handlers.
type Service struct {
	model     ModelState
	runner    Runner
	observers []Observer
	metrics   Metrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(model ModelState, runner Runner, opts ...Option) *Service {
	s := &Service{model: model, runner: runner, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict handles an undecoded request body. Readiness is checked before the
// body is parsed, so an unloaded model answers ModelUnavailable for any input.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (Response, error) {
	start := s.now()
	customerID, _ := raw["customer_id"].(string)

	if !s.model.IsLoaded() {
		return Response{}, s.fail(customerID, start, apperr.New(apperr.KindModelUnavailable, "model is not loaded"))
	}

	req, err := features.ParseRequest(raw)
	if err != nil {
		return Response{}, s.fail(customerID, start, err)
	}
	return s.predict(ctx, req, start)
}

// PredictRequest handles an already typed request.
func (s *Service) PredictRequest(ctx context.Context, req features.PredictionRequest) (Response, error) {
	start := s.now()

	if !s.model.IsLoaded() {
		return Response{}, s.fail(req.CustomerID, start, apperr.New(apperr.KindModelUnavailable, "model is not loaded"))
	}
	if err := validateRequest(req); err != nil {
		return Response{}, s.fail(req.CustomerID, start, err)
	}
	return s.predict(ctx, req, start)
}

func (s *Service) predict(ctx context.Context, req features.PredictionRequest, start time.Time) (Response, error) {
	res, err := s.runner.Run(ctx, req.Features)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(apperr.KindInferenceFailure, "model inference failed", err)
		}
		return Response{}, s.fail(req.CustomerID, start, err)
	}

	log.Info().
		Str("customer_id", req.CustomerID).
		Str("label", string(res.Label)).
		Float64("probability", res.Probability).
		Dur("elapsed", s.now().Sub(start)).
		Msg("Prediction served")
	if s.metrics != nil {
		s.metrics.PredictionsInc(string(res.Label))
	}

	s.notify(ctx, Event{
		CustomerID: req.CustomerID,
		Features:   req.Features,
		Result:     res,
		At:         s.now().UTC(),
	})

	return Response{CustomerID: req.CustomerID, Prediction: res}, nil
}

func (s *Service) notify(ctx context.Context, ev Event) {
	for _, o := range s.observers {
		if err := o.OnPrediction(ctx, ev); err != nil {
			log.Warn().Err(err).Str("customer_id", ev.CustomerID).Msg("Prediction observer failed")
		}
	}
}

// fail logs the single outcome entry for a failed request and counts it.
func (s *Service) fail(customerID string, start time.Time, err error) error {
	kind := apperr.KindOf(err)

	var ev *zerolog.Event
	switch kind {
	case apperr.KindValidation:
		ev = log.Info()
	case apperr.KindModelUnavailable:
		ev = log.Warn()
	default:
		ev = log.Error()
	}
	ev.Err(err).
		Str("customer_id", customerID).
		Str("kind", string(kind)).
		Dur("elapsed", s.now().Sub(start)).
		Msg("Prediction rejected")

	if s.metrics != nil {
		s.metrics.ErrorsInc(string(kind))
	}
	return err
}

// ModelInfo returns the model descriptor.
func (s *Service) ModelInfo() ml.Descriptor {
	return s.model.Describe()
}

// Health reports readiness. It always agrees with ModelInfo().Loaded.
func (s *Service) Health() bool {
	return s.model.IsLoaded()
}

func validateRequest(req features.PredictionRequest) error {
	var violations []apperr.Violation
	if strings.TrimSpace(req.CustomerID) == "" {
		violations = append(violations, apperr.Violation{Field: "customer_id", Message: "must not be empty"})
	}
	if err := features.Validate(req.Features); err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			return err
		}
		for _, v := range ae.Violations {
			v.Field = "features." + v.Field
			violations = append(violations, v)
		}
	}
	if len(violations) > 0 {
		return apperr.Validation(violations)
	}
	return nil
}
