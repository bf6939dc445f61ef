// Package http exposes the rental lifecycle over a REST surface. All rules
// live in the service layer; handlers only decode, authenticate, and map
// errors to status codes.
package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"agentlease-backend/internal/security"
	"agentlease-backend/internal/service"
)

// Handler bundles the API dependencies.
type Handler struct {
	lifecycle service.RentalLifecycleService
	tokens    security.TokenManager
}

func NewHandler(lifecycle service.RentalLifecycleService, tokens security.TokenManager) *Handler {
	return &Handler{lifecycle: lifecycle, tokens: tokens}
}

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(h.authMiddleware)

	api.HandleFunc("/rentals", h.handleInitiate).Methods(http.MethodPost)
	api.HandleFunc("/rentals", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/rentals/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/rentals/{id}/complete", h.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/rentals/{id}/terminate", h.handleTerminate).Methods(http.MethodPost)
	api.HandleFunc("/rentals/{id}/claim-timeout", h.handleClaimTimeout).Methods(http.MethodPost)
	api.HandleFunc("/rentals/{id}/settle-timeout", h.handleSettleTimeout).Methods(http.MethodPost)
	api.HandleFunc("/rentals/{id}/usage", h.handleRecordUsage).Methods(http.MethodPost)
	api.HandleFunc("/rentals/{id}/budget", h.handleBudgetStatus).Methods(http.MethodGet)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
