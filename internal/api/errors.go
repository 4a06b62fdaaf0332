package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/Aayu095/Job4Meal/internal/app"
	"github.com/Aayu095/Job4Meal/internal/domain"
)

// conflictRetryAfterSeconds is advertised when the store gave up on contention.
const conflictRetryAfterSeconds = 1

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusForKind maps engine error kinds to HTTP statuses.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindPreconditionFailed:
		return http.StatusConflict
	case domain.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusServiceUnavailable
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with the status its kind maps to. Internal errors are
// logged and replaced by a generic message.
func writeEngineError(w http.ResponseWriter, endpoint string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	switch kind {
	case domain.KindConflict:
		w.Header().Set("Retry-After", strconv.Itoa(conflictRetryAfterSeconds))
	case domain.KindRateLimited:
		retryAfter := conflictRetryAfterSeconds
		if limited, ok := app.IsRateLimited(err); ok && limited.RetryAfterSeconds > 0 {
			retryAfter = limited.RetryAfterSeconds
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	case domain.KindInternal:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		writeError(w, status, "internal", "Internal server error")
		return
	}

	log.Printf("level=warn component=api endpoint=%s outcome=reject code=%s err=%v", endpoint, domain.CodeOf(err), err)
	writeError(w, status, domain.CodeOf(err), err.Error())
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
