package jobs

import (
	"context"
	"time"

	"agentlease-backend/internal/logger"
)

// WarnTimedOutRentals scans for active rentals past their timeout and
// alerts that the renter may claim a refund.
func (jr *JobRunner) WarnTimedOutRentals() {
	jr.runWithRecovery("WarnTimedOutRentals", func() {
		ctx := context.Background()
		now := time.Now()

		timedOut := jr.lifecycle.GetTimedOutRentals(now)
		logger.Info("Timed-out rental sweep", "count", len(timedOut))

		for _, r := range timedOut {
			logger.Debug("Rental past timeout",
				"rental_id", r.ID,
				"renter_id", r.RenterID,
				"owner_id", r.OwnerID,
				"timeout_at", r.TimeoutAt)

			if err := jr.notifier.TimeoutClaimable(ctx, r.ID, r.RenterID, r.TimeoutAt); err != nil {
				logger.Error("Failed to send timeout alert", "rental_id", r.ID, "error", err)
			}
		}
	})
}

// ReportDeadEscrows scans for escrows unclaimed past the settlement window
// and alerts the operator.
func (jr *JobRunner) ReportDeadEscrows() {
	jr.runWithRecovery("ReportDeadEscrows", func() {
		ctx := context.Background()
		now := time.Now()

		dead := jr.lifecycle.GetDeadEscrows(now)
		logger.Info("Dead escrow sweep", "count", len(dead))

		for _, r := range dead {
			logger.Warn("Dead escrow needs operator cleanup",
				"rental_id", r.ID,
				"escrow_account", r.EscrowAccount,
				"amount_atomic", r.EscrowTotal(),
				"dead_since", r.DeadEscrowAt)

			if err := jr.notifier.DeadEscrow(ctx, r.ID, r.EscrowAccount, r.EscrowTotal()); err != nil {
				logger.Error("Failed to send dead escrow alert", "rental_id", r.ID, "error", err)
			}
		}
	})
}
