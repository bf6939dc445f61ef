// Package notify delivers operational alerts raised by the sweep jobs.
package notify

import (
	"context"
	"time"
)

// Notifier receives alerts about rentals needing operator or party
// attention. Delivery failures are logged by callers, never fatal.
type Notifier interface {
	// TimeoutClaimable signals that a rental passed its timeout and the
	// renter may claim a refund.
	TimeoutClaimable(ctx context.Context, rentalID, renterID string, timeoutAt time.Time) error

	// DeadEscrow signals that an escrow sat unclaimed past the settlement
	// window and needs operator cleanup.
	DeadEscrow(ctx context.Context, rentalID string, escrowAccount string, amount int64) error
}

// Noop discards all alerts.
type Noop struct{}

func (Noop) TimeoutClaimable(context.Context, string, string, time.Time) error { return nil }
func (Noop) DeadEscrow(context.Context, string, string, int64) error { return nil }
