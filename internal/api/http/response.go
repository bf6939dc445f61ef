package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the service error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation   *domain.ValidationError
		precondition *domain.PreconditionError
		conflict     *domain.ConflictError
		dependency   *domain.DependencyError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &precondition):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &dependency):
		logger.Error("Dependency failure on API call", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("Unclassified failure on API call", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
