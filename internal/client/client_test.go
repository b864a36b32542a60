package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"churninsight/internal/exec"
	"churninsight/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() features.PredictionRequest {
	return features.PredictionRequest{
		CustomerID: "c1",
		Features: features.CustomerFeatures{
			SubscriptionType:   features.SubscriptionBasic,
			WatchHours:         10.5,
			LastLoginDays:      60,
			MonthlyFee:         8.99,
			NumberOfProfiles:   1,
			AvgWatchTimePerDay: 0.5,
			PaymentMethod:      features.PaymentCreditCard,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req features.PredictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, features.PaymentCreditCard, req.Features.PaymentMethod)

		writeJSON(w, http.StatusOK, `{"customer_id":"c1","prediction":{"label":"will_churn","probability":0.82}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	resp, err := c.Predict(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.CustomerID)
	assert.Equal(t, exec.WillChurn, resp.Prediction.Label)
	assert.Equal(t, 0.82, resp.Prediction.Probability)
}

func TestPredict_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, `{
			"error":"ValidationError",
			"detail":"invalid input: features.watch_hours: must be >= 0",
			"violations":[{"field":"features.watch_hours","message":"must be >= 0"}]
		}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, 2).Predict(context.Background(), sampleRequest())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "ValidationError", apiErr.Kind)
	require.Len(t, apiErr.Violations, 1)
	assert.Equal(t, "features.watch_hours", apiErr.Violations[0].Field)
}

func TestPredict_RetriesWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{"error":"ModelUnavailable","detail":"model is not loaded"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"customer_id":"c1","prediction":{"label":"will_continue","probability":0.1}}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second, 3).Predict(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, exec.WillContinue, resp.Prediction.Label)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPredict_NoRetryOnInferenceFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, `{"error":"InferenceFailure","detail":"model inference failed"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, 3).Predict(context.Background(), sampleRequest())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "InferenceFailure", apiErr.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHealth(t *testing.T) {
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			writeJSON(w, http.StatusOK, `{"status":"healthy","model_loaded":true,"service":"churn-prediction"}`)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, `{"status":"unhealthy","model_loaded":false,"service":"churn-prediction"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.ModelLoaded)
	assert.Equal(t, "unhealthy", h.Status)

	healthy.Store(true)
	h, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ModelLoaded)
}

func TestModelInfoAndRiskFactors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model/info":
			writeJSON(w, http.StatusOK, `{"version":"v1.0.0","features":["subscription_type"],"model_type":"LogisticRegression","loaded":true}`)
		case "/api/risk-factors/c%2F1", "/api/risk-factors/c/1":
			writeJSON(w, http.StatusOK, `{"customer_id":"c/1","risk_level":"high","factors":["x"],"similar_customers_count":3}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"error":"NotFound","detail":"route not found"}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, 0)

	info, err := c.ModelInfo(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info.ModelType)
	assert.Equal(t, "LogisticRegression", *info.ModelType)

	exp, err := c.RiskFactors(context.Background(), "c/1")
	require.NoError(t, err)
	assert.Equal(t, 3, exp.SimilarCustomers)

	_, err = c.KPIs(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, 200*time.Millisecond, 1).ModelInfo(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
