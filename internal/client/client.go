// Package client is a typed HTTP client for the churn prediction service.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"churninsight/internal/apperr"
	"churninsight/internal/features"
	"churninsight/internal/insights"
	"churninsight/internal/ml"
	"churninsight/internal/prediction"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Kind       string             `json:"error"`
	Detail     string             `json:"detail"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("churn service: status %d", e.StatusCode)
	}
	return fmt.Sprintf("churn service: %d %s: %s", e.StatusCode, e.Kind, e.Detail)
}

// Health mirrors the service's readiness payload.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Service     string `json:"service"`
}

type Client struct {
	base string
	rest *resty.Client
}

// New builds a client. Transport errors and gateway failures are retried;
// a 503 from /predict is retried too since the model may still be loading.
func New(base string, timeout time.Duration, retries int) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(DefaultTimeout)
	}
	if retries < 0 {
		retries = 0
	}
	r.SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryable)

	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	case http.StatusServiceUnavailable:
		return strings.HasSuffix(resp.Request.URL, "/predict")
	}
	return false
}

// Health reports readiness. An unhealthy service is not an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get(c.base + "/health")
	if err != nil {
		return Health{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusServiceUnavailable {
		return Health{}, &APIError{StatusCode: resp.StatusCode()}
	}
	return out, nil
}

func (c *Client) ModelInfo(ctx context.Context) (ml.Descriptor, error) {
	var out ml.Descriptor
	err := c.get(ctx, "/model/info", &out)
	return out, err
}

func (c *Client) Predict(ctx context.Context, req features.PredictionRequest) (prediction.Response, error) {
	var out prediction.Response
	err := c.do(c.rest.R().SetContext(ctx).SetBody(req), http.MethodPost, "/predict", &out)
	return out, err
}

func (c *Client) KPIs(ctx context.Context) (insights.KPIs, error) {
	var out insights.KPIs
	err := c.get(ctx, "/api/kpis", &out)
	return out, err
}

func (c *Client) RiskFactors(ctx context.Context, customerID string) (insights.Explanation, error) {
	var out insights.Explanation
	err := c.do(c.rest.R().SetContext(ctx).SetPathParam("customer_id", customerID), http.MethodGet, "/api/risk-factors/{customer_id}", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(c.rest.R().SetContext(ctx), http.MethodGet, path, out)
}

func (c *Client) do(req *resty.Request, method, path string, out any) error {
	apiErr := &APIError{}
	resp, err := req.
		SetResult(out).
		SetError(apiErr).
		Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return apiErr
	}
	return nil
}
