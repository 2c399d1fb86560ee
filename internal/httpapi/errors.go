package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/dispatch"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known serving errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case registry.IsModelNotFound(err):
		return http.StatusNotFound
	case registry.IsBusy(err):
		return http.StatusConflict
	case dispatch.IsTooBusy(err):
		return http.StatusTooManyRequests
	case dispatch.IsShuttingDown(err):
		return http.StatusServiceUnavailable
	case registry.IsModelLoadFailed(err), registry.IsModelUnloadFailed(err):
		return http.StatusInternalServerError
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeServiceError maps and writes a serving error, recording
// backpressure rejections.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
}
