package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"llmnode/internal/manager"
	"llmnode/internal/registry"
	"llmnode/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to an HTTP status and, for 429s, the
// backpressure reason.
func statusFor(err error) (int, string) {
	var he HTTPError
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound, ""
	case manager.IsInvalidRequest(err), registry.IsResolution(err):
		return http.StatusBadRequest, ""
	case manager.IsResourceExhausted(err):
		return http.StatusTooManyRequests, "vram"
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests, "queue"
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable, ""
	case errors.As(err, &he):
		return he.StatusCode(), ""
	default:
		return http.StatusInternalServerError, ""
	}
}

// writeError maps err and writes the JSON payload, with Retry-After on 429.
func writeError(w http.ResponseWriter, err error) int {
	status, reason := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(reason)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}
