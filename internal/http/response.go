package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"financemate/internal/auth"
	"financemate/internal/core"
)

// apiResponse is the envelope every JSON endpoint returns. Error carries a
// message only when Success is false.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "url", r.URL.Path, "error", err)
	} else {
		slog.WarnContext(r.Context(), "Request rejected", "url", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Success: false, Error: errorMessage(err, status)})
}

// statusFromError maps the domain error taxonomy onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps internal failure detail out of responses.
func errorMessage(err error, status int) string {
	if status >= 500 {
		return "internal error"
	}
	return err.Error()
}
