package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/bizflow/internal/engine"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, APIError{Error: msg, Code: code, Details: details})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var (
		rerr *engine.RuntimeError
		verr *registry.ValidationError
	)
	switch {
	case errors.As(err, &rerr):
		writeError(w, runtimeStatus(rerr.Code), string(rerr.Code), rerr.Message, rerr.Details)
	case registry.IsUnknownType(err):
		writeError(w, http.StatusNotFound, "unknown_type", err.Error(), nil)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}

func runtimeStatus(code engine.RuntimeErrorCode) int {
	switch code {
	case engine.ErrCodeUnknownRule:
		return http.StatusNotFound
	case engine.ErrCodeInactiveRule:
		return http.StatusConflict
	case engine.ErrCodeConfig:
		return http.StatusBadRequest
	case engine.ErrCodeDepthExceeded, engine.ErrCodeBudgetExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON object keeping integers exact.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if m, ok := v.(*map[string]any); ok {
		model.NormalizeNumbers(*m)
	}
	return nil
}
