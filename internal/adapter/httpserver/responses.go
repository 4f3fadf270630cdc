// Package httpserver contains the REST handlers and middleware for the
// submission lifecycle API. It keeps HTTP concerns out of the usecase layer:
// identity comes from gateway headers, errors map onto a JSON envelope, and
// bodies are validated before any service call.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		code = http.StatusForbidden
		codeStr = "FORBIDDEN"
	case errors.Is(err, domain.ErrLineageLocked):
		code = http.StatusConflict
		codeStr = "LINEAGE_LOCKED"
	case errors.Is(err, domain.ErrNotReviewable):
		code = http.StatusConflict
		codeStr = "NOT_REVIEWABLE"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		code = http.StatusUnsupportedMediaType
		codeStr = "UNSUPPORTED_FORMAT"
	case errors.Is(err, domain.ErrQueueUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "QUEUE_UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
