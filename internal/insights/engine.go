package insights

import (
	"context"
	"math"
	"time"

	"churninsight/internal/apperr"
	"churninsight/internal/exec"
	"churninsight/internal/metrics"
	"churninsight/internal/prediction"
	"churninsight/internal/storage"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const kpiKey = "kpis"

// History is the part of the store the engine reads and writes.
type History interface {
	SaveRecord(rec *storage.HistoryRecord) error
	Latest(customerID string) (storage.HistoryRecord, bool, error)
	LatestPerCustomer() ([]storage.HistoryRecord, error)
	CustomersWithRisk(riskLevel string) (int, error)
}

// KPIs summarizes the newest prediction of every customer.
type KPIs struct {
	TotalCustomers int       `json:"total_customers"`
	HighRisk       int       `json:"high_risk"`
	MediumRisk     int       `json:"medium_risk"`
	LowRisk        int       `json:"low_risk"`
	ChurnRate      float64   `json:"churn_rate"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Explanation is the risk breakdown for one customer.
type Explanation struct {
	CustomerID       string    `json:"customer_id"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Probability      float64   `json:"probability"`
	Factors          []string  `json:"factors"`
	SuggestedAction  string    `json:"suggested_action"`
	Recommendation   string    `json:"recommendation"`
	SimilarCustomers int       `json:"similar_customers_count"`
	PredictedAt      time.Time `json:"predicted_at"`
}

// Engine records predictions and derives KPIs and explanations from them.
// KPIs are cached until the TTL expires or a new prediction arrives.
type Engine struct {
	store   History
	cache   *cache.Cache
	ttl     time.Duration
	metrics *metrics.MetricsWrapper
}

func New(store History, ttl time.Duration, m *metrics.MetricsWrapper) *Engine {
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Engine{
		store:   store,
		cache:   cache.New(ttl, cleanup),
		ttl:     ttl,
		metrics: m,
	}
}

// OnPrediction persists a successful prediction and drops cached KPIs.
func (e *Engine) OnPrediction(_ context.Context, ev prediction.Event) error {
	rec := &storage.HistoryRecord{
		CustomerID:  ev.CustomerID,
		Features:    ev.Features,
		Probability: ev.Result.Probability,
		Label:       string(ev.Result.Label),
		RiskLevel:   string(LevelFor(ev.Result.Probability)),
		CreatedAt:   ev.At,
	}
	err := e.store.SaveRecord(rec)
	e.Invalidate()

	if e.metrics != nil {
		if err != nil {
			e.metrics.HistoryErrors().Inc()
		} else {
			e.metrics.HistoryWrites().Inc()
		}
	}
	return err
}

// Invalidate drops cached KPIs.
func (e *Engine) Invalidate() {
	e.cache.Delete(kpiKey)
}

// KPIs returns the portfolio summary, computing it on a cache miss.
func (e *Engine) KPIs() (KPIs, error) {
	if v, ok := e.cache.Get(kpiKey); ok {
		return v.(KPIs), nil
	}

	latest, err := e.store.LatestPerCustomer()
	if err != nil {
		return KPIs{}, err
	}
	k := summarize(latest)
	k.GeneratedAt = time.Now().UTC()

	if e.ttl > 0 {
		e.cache.Set(kpiKey, k, cache.DefaultExpiration)
	}
	if e.metrics != nil {
		e.metrics.KPIRefreshes().Inc()
		e.metrics.UpdateRiskTiers(map[string]int{
			string(RiskHigh):   k.HighRisk,
			string(RiskMedium): k.MediumRisk,
			string(RiskLow):    k.LowRisk,
		})
	}
	log.Debug().Int("customers", k.TotalCustomers).Float64("churn_rate", k.ChurnRate).Msg("KPIs refreshed")
	return k, nil
}

func summarize(latest []storage.HistoryRecord) KPIs {
	var (
		k       KPIs
		churned int
	)
	k.TotalCustomers = len(latest)
	for _, rec := range latest {
		switch LevelFor(rec.Probability) {
		case RiskHigh:
			k.HighRisk++
		case RiskMedium:
			k.MediumRisk++
		default:
			k.LowRisk++
		}
		if rec.Label == string(exec.WillChurn) {
			churned++
		}
	}
	if k.TotalCustomers > 0 {
		k.ChurnRate = math.Round(float64(churned)/float64(k.TotalCustomers)*10000) / 100
	}
	return k
}

// Explain describes the customer's newest prediction.
func (e *Engine) Explain(customerID string) (Explanation, error) {
	rec, found, err := e.store.Latest(customerID)
	if err != nil {
		return Explanation{}, err
	}
	if !found {
		return Explanation{}, apperr.New(apperr.KindNotFound, "no predictions for customer "+customerID)
	}

	level := RiskLevel(rec.RiskLevel)
	if level != RiskHigh && level != RiskMedium && level != RiskLow {
		level = LevelFor(rec.Probability)
	}

	similar, err := e.store.CustomersWithRisk(string(level))
	if err != nil {
		return Explanation{}, err
	}

	return Explanation{
		CustomerID:       customerID,
		RiskLevel:        level,
		Probability:      rec.Probability,
		Factors:          Factors(rec.Features, level),
		SuggestedAction:  SuggestedAction(rec.Features, level),
		Recommendation:   Recommendation(rec.Features, level),
		SimilarCustomers: similar,
		PredictedAt:      rec.CreatedAt,
	}, nil
}
