package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"churninsight/internal/common"
	"churninsight/internal/storage"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"
)

const maxBodyBytes = 1 << 20

type rootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Health  string `json:"health"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Service     string `json:"service"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Service: s.settings.AppName,
		Version: s.settings.AppVersion,
		Status:  "running",
		Health:  "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", ModelLoaded: true, Service: common.ServiceID}
	status := http.StatusOK
	if !s.deps.Predictor.Health() {
		resp.Status = "unhealthy"
		resp.ModelLoaded = false
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Predictor.ModelInfo())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, r, badRequest("request body is empty"))
			return
		}
		writeError(w, r, badRequest("request body must be a JSON object"))
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	resp, err := s.deps.Predictor.Predict(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.deps.History.Recent(page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCustomerHistory(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.deps.History.ByCustomer(mux.Vars(r)["customer_id"], page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := parseBound(q.Get("start"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseBound(q.Get("end"), true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.deps.History.InRange(start, end, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.History.Clear(); err != nil {
		writeError(w, r, err)
		return
	}
	if s.deps.Insights != nil {
		s.deps.Insights.Invalidate()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	k, err := s.deps.Insights.KPIs()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (s *Server) handleRiskFactors(w http.ResponseWriter, r *http.Request) {
	exp, err := s.deps.Insights.Explain(mux.Vars(r)["customer_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, size := 0, storage.DefaultPageSize

	if v := q.Get("page"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return 0, 0, badRequest("page must be a non-negative integer")
		}
		page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n < 1 || n > storage.MaxPageSize {
			return 0, 0, badRequest(fmt.Sprintf("size must be between 1 and %d", storage.MaxPageSize))
		}
		size = n
	}
	return page, size, nil
}

// parseBound accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseBound(v string, end bool) (time.Time, error) {
	name := "start"
	if end {
		name = "end"
	}
	if v == "" {
		return time.Time{}, badRequest(name + " is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, badRequest(name + " must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
