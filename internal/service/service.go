package service

import (
	"context"
	"time"

	"agentlease-backend/internal/budget"
	"agentlease-backend/internal/domain"
)

// InitiateRequest carries everything needed to open a rental. Party ids are
// ledger account addresses.
type InitiateRequest struct {
	RenterID                string
	AgentID                 string
	Type                    domain.RentalType
	StakeStable             float64
	BufferStable            float64
	Constraints             *domain.Constraints
	ExpectedDurationMinutes int
}

// RentalLifecycleService drives rentals through their state machine. It is
// the only component that touches the ledger, the audit log, and the agent
// registry.
//
// Operations on the same rental id are serialized internally; operations on
// different ids run concurrently.
type RentalLifecycleService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.Rental, error)
	Complete(ctx context.Context, callerID, rentalID string, usage *domain.Usage) error
	Terminate(ctx context.Context, callerID, rentalID, reason string) error
	ClaimTimeout(ctx context.Context, callerID, rentalID string) error
	SettleTimeout(ctx context.Context, callerID, rentalID string, usage domain.Usage) error

	GetRental(ctx context.Context, callerID, rentalID string) (*domain.Rental, error)
	ListRentals(ctx context.Context, callerID string) ([]*domain.Rental, error)

	RecordUsage(ctx context.Context, callerID, rentalID string, cost float64, tokens, instructions int64) error
	BudgetStatus(ctx context.Context, callerID, rentalID string) (budget.Status, error)

	// Read-only scans driven by the external sweeper.
	GetTimedOutRentals(now time.Time) []*domain.Rental
	GetDeadEscrows(now time.Time) []*domain.Rental
}
