package httpapi

import (
	"encoding/json"
	"net/http"

	"orchd/internal/inference"
	"orchd/internal/workflow"
	"orchd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known orchestration errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case workflow.IsPlanInvalid(err):
		return http.StatusBadRequest
	case workflow.IsTaskNotFound(err):
		return http.StatusNotFound
	case inference.IsRequestError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
