package exec

import (
	"context"
	"math"
	"time"

	"churninsight/internal/apperr"
	"churninsight/internal/cfg"
	"churninsight/internal/common"
	"churninsight/internal/features"
	"churninsight/internal/metrics"
	"churninsight/internal/ml"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Predictor scores an ordered feature vector.
type Predictor interface {
	PredictProbability(ctx context.Context, v ml.Vector) (float64, error)
}

// Label is the binary churn outcome.
type Label string

const (
	WillChurn    Label = common.LabelWillChurn
	WillContinue Label = common.LabelWillContinue
)

// Result is a labelled, rounded churn probability.
type Result struct {
	Label       Label   `json:"label"`
	Probability float64 `json:"probability"`
}

// Exec runs inference with bounded concurrency so CPU-heavy classifier calls
// cannot starve request handling.
type Exec struct {
	predictor Predictor
	sem       *semaphore.Weighted
	workers   int
	timeout   time.Duration
	metrics   *metrics.MetricsWrapper
}

func New(c cfg.Settings, p Predictor, m *metrics.MetricsWrapper) *Exec {
	workers := c.InferenceWorkers
	if workers < 1 {
		workers = common.DefaultInferenceWorkers
	}
	return &Exec{
		predictor: p,
		sem:       semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		timeout:   c.InferenceTimeout,
		metrics:   m,
	}
}

// Workers returns the concurrency bound.
func (e *Exec) Workers() int {
	return e.workers
}

// Run scores f. The vector is built in training column order; the returned
// probability is rounded to three decimals and the label derived from it.
func (e *Exec) Run(ctx context.Context, f features.CustomerFeatures) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	queued := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		log.Warn().Err(err).Dur("waited", time.Since(queued)).Msg("Inference slot not acquired")
		return Result{}, apperr.Wrap(apperr.KindInferenceFailure, "inference was not scheduled", err)
	}
	defer e.sem.Release(1)

	if e.metrics != nil {
		e.metrics.QueueWait().Observe(time.Since(queued).Seconds())
		e.metrics.InFlight().Add(1)
		defer e.metrics.InFlight().Add(-1)
	}

	p, err := e.predictor.PredictProbability(ctx, BuildVector(f))
	if err != nil {
		if apperr.KindOf(err) != "" {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.KindInferenceFailure, "model inference failed", err)
	}

	if e.metrics != nil {
		e.metrics.Scores().Observe(p)
	}

	rounded := Round3(p)
	return Result{Label: LabelFor(rounded), Probability: rounded}, nil
}

// BuildVector lays f out in features.ColumnOrder.
func BuildVector(f features.CustomerFeatures) ml.Vector {
	cells := map[string]ml.Cell{
		features.ColSubscriptionType:   {Cat: string(f.SubscriptionType), Categorical: true},
		features.ColWatchHours:         {Num: f.WatchHours},
		features.ColLastLoginDays:      {Num: float64(f.LastLoginDays)},
		features.ColMonthlyFee:         {Num: f.MonthlyFee},
		features.ColNumberOfProfiles:   {Num: float64(f.NumberOfProfiles)},
		features.ColAvgWatchTimePerDay: {Num: f.AvgWatchTimePerDay},
		features.ColPaymentMethod:      {Cat: string(f.PaymentMethod), Categorical: true},
	}

	v := make(ml.Vector, 0, len(features.ColumnOrder))
	for _, name := range features.ColumnOrder {
		cell := cells[name]
		cell.Name = name
		v = append(v, cell)
	}
	return v
}

// Round3 rounds p half away from zero to three decimals.
func Round3(p float64) float64 {
	return math.Round(p*1000) / 1000
}

// LabelFor applies the inclusive churn threshold.
func LabelFor(p float64) Label {
	if p >= common.ChurnThreshold {
		return WillChurn
	}
	return WillContinue
}
