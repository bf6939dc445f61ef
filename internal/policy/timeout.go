// Package policy computes the escrow timeout and settlement windows for a
// rental.
package policy

import (
	"time"

	"agentlease-backend/internal/domain"
)

// Default window sizes. The settlement window and dead-escrow horizon are
// fixed regardless of rental type; only the grace period varies.
const (
	DefaultFlashGrace   = 15 * time.Minute
	DefaultSessionGrace = 1 * time.Hour
	DefaultTermGrace    = 24 * time.Hour

	DefaultSettlementWindow = 24 * time.Hour
	DefaultDeadEscrowWindow = 7 * 24 * time.Hour
)

// TimeoutPolicy derives absolute timeout boundaries from a rental's type
// and expected duration. The zero value is not usable; construct with
// Default or with explicit windows from config.
type TimeoutPolicy struct {
	FlashGrace   time.Duration
	SessionGrace time.Duration
	TermGrace    time.Duration

	SettlementWindow time.Duration
	DeadEscrowWindow time.Duration
}

// Default returns a policy with the standard windows.
func Default() TimeoutPolicy {
	return TimeoutPolicy{
		FlashGrace:       DefaultFlashGrace,
		SessionGrace:     DefaultSessionGrace,
		TermGrace:        DefaultTermGrace,
		SettlementWindow: DefaultSettlementWindow,
		DeadEscrowWindow: DefaultDeadEscrowWindow,
	}
}

// Windows is the set of absolute boundaries for one rental, computed once
// at initiation. Storing timestamps rather than durations avoids clock
// drift from recomputation.
type Windows struct {
	TimeoutAt            time.Time
	SettlementDeadlineAt time.Time
	DeadEscrowAt         time.Time
}

// Compute returns the boundaries for a rental of the given type starting at
// now with the given expected duration in minutes.
func (p TimeoutPolicy) Compute(rentalType domain.RentalType, expectedDurationMinutes int, now time.Time) (Windows, error) {
	var grace time.Duration
	switch rentalType {
	case domain.RentalTypeFlash:
		grace = p.FlashGrace
	case domain.RentalTypeSession:
		grace = p.SessionGrace
	case domain.RentalTypeTerm:
		grace = p.TermGrace
	default:
		return Windows{}, domain.Validationf("unknown rental type %q", rentalType)
	}
	if expectedDurationMinutes < 0 {
		return Windows{}, domain.Validationf("expected duration must be non-negative, got %d", expectedDurationMinutes)
	}

	timeoutAt := now.Add(time.Duration(expectedDurationMinutes)*time.Minute + grace)
	return Windows{
		TimeoutAt:            timeoutAt,
		SettlementDeadlineAt: timeoutAt.Add(p.SettlementWindow),
		DeadEscrowAt:         timeoutAt.Add(p.DeadEscrowWindow),
	}, nil
}
