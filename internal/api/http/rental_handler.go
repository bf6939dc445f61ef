package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/service"
)

type initiateRequest struct {
	AgentID                 string              `json:"agent_id"`
	Type                    string              `json:"type"`
	StakeStable             float64             `json:"stake_stable"`
	BufferStable            float64             `json:"buffer_stable"`
	Constraints             *domain.Constraints `json:"constraints,omitempty"`
	ExpectedDurationMinutes int                 `json:"expected_duration_minutes"`
}

type usageRequest struct {
	Instructions  int64    `json:"instructions"`
	Tokens        int64    `json:"tokens"`
	CostStable    float64  `json:"cost_stable"`
	UptimePercent *float64 `json:"uptime_percent,omitempty"`
}

func (u *usageRequest) toDomain() domain.Usage {
	return domain.Usage{
		Instructions:  u.Instructions,
		Tokens:        u.Tokens,
		CostStable:    u.CostStable,
		UptimePercent: u.UptimePercent,
	}
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rental, err := h.lifecycle.Initiate(r.Context(), service.InitiateRequest{
		RenterID:                party(r),
		AgentID:                 req.AgentID,
		Type:                    domain.RentalType(req.Type),
		StakeStable:             req.StakeStable,
		BufferStable:            req.BufferStable,
		Constraints:             req.Constraints,
		ExpectedDurationMinutes: req.ExpectedDurationMinutes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sanitize(rental))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rentals, err := h.lifecycle.ListRentals(r.Context(), party(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]*domain.Rental, 0, len(rentals))
	for _, rental := range rentals {
		out = append(out, sanitize(rental))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rental, err := h.lifecycle.GetRental(r.Context(), party(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitize(rental))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var usage *domain.Usage
	if r.ContentLength != 0 {
		var req usageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		u := req.toDomain()
		usage = &u
	}

	if err := h.lifecycle.Complete(r.Context(), party(r), mux.Vars(r)["id"], usage); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	if err := h.lifecycle.Terminate(r.Context(), party(r), mux.Vars(r)["id"], req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (h *Handler) handleClaimTimeout(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.ClaimTimeout(r.Context(), party(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "timed_out"})
}

func (h *Handler) handleSettleTimeout(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.lifecycle.SettleTimeout(r.Context(), party(r), mux.Vars(r)["id"], req.toDomain()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.lifecycle.RecordUsage(r.Context(), party(r), mux.Vars(r)["id"], req.CostStable, req.Tokens, req.Instructions); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.lifecycle.BudgetStatus(r.Context(), party(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// sanitize strips the escrow secret before a record leaves the process.
// The secret never crosses the API boundary, not even to its own renter.
func sanitize(r *domain.Rental) *domain.Rental {
	cp := *r
	cp.EscrowSecret = nil
	return &cp
}
