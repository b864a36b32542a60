package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"churninsight/internal/apperr"

	"github.com/rs/zerolog/hlog"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Error      string             `json:"error"`
	Detail     string             `json:"detail"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Only typed errors expose a message;
// anything else is reported as a generic internal error and logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		hlog.FromRequest(r).Error().Err(err).Msg("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, ErrorBody{
			Error:  "InternalError",
			Detail: "internal server error",
		})
		return
	}

	status := ae.StatusCode()
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("kind", string(ae.Kind)).Msg("Request failed")
	}
	writeJSON(w, status, ErrorBody{
		Error:      string(ae.Kind),
		Detail:     ae.Detail(),
		Violations: ae.Violations,
	})
}

func badRequest(msg string) error {
	return apperr.New(apperr.KindBadRequest, msg)
}
