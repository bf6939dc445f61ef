package domain

import "time"

type RentalStatus string

const (
	RentalStatusActive     RentalStatus = "ACTIVE"
	RentalStatusCompleted  RentalStatus = "COMPLETED"
	RentalStatusTerminated RentalStatus = "TERMINATED"
	RentalStatusDisputed   RentalStatus = "DISPUTED"
	RentalStatusTimedOut   RentalStatus = "TIMED_OUT"
)

// IsTerminal reports whether the status permits no further transitions.
// DISPUTED is a side branch, not a terminal state.
func (s RentalStatus) IsTerminal() bool {
	switch s {
	case RentalStatusCompleted, RentalStatusTerminated, RentalStatusTimedOut:
		return true
	}
	return false
}

type RentalType string

const (
	RentalTypeFlash   RentalType = "FLASH"
	RentalTypeSession RentalType = "SESSION"
	RentalTypeTerm    RentalType = "TERM"
)

func (t RentalType) Valid() bool {
	switch t {
	case RentalTypeFlash, RentalTypeSession, RentalTypeTerm:
		return true
	}
	return false
}

// Constraints restricts what the renter may do with the agent while the
// rental is active.
type Constraints struct {
	BlockedCapabilities   []string `json:"blocked_capabilities,omitempty"`
	AccessLevel           string   `json:"access_level,omitempty"`
	MaxCostPerInstruction float64  `json:"max_cost_per_instruction,omitempty"`
	MaxCostPerDay         float64  `json:"max_cost_per_day,omitempty"`
}

type Rental struct {
	ID       string     `json:"id"`
	AgentID  string     `json:"agent_id"`
	Type     RentalType `json:"type"`
	RenterID string     `json:"renter_id"`
	OwnerID  string     `json:"owner_id"`

	// Price snapshot fields — captured at initiation time. All settlement
	// arithmetic uses these snapshots, never a re-queried rate, even if the
	// owner changes pricing later.
	StakeStable  float64 `json:"stake_stable"`
	BufferStable float64 `json:"buffer_stable"`
	StakeAtomic  int64   `json:"stake_atomic"`
	BufferAtomic int64   `json:"buffer_atomic"`
	RateSnapshot float64 `json:"rate_snapshot"`

	// EscrowSecret is the single credential controlling the escrow account.
	// Set exactly once at initiation, cleared exactly once when the rental
	// reaches a terminal state. A nil secret on an ACTIVE record is invalid;
	// a non-nil secret on a terminal record is a bug.
	EscrowAccount string  `json:"escrow_account"`
	EscrowSecret  *string `json:"escrow_secret,omitempty"`

	Constraints Constraints `json:"constraints"`
	AuditTopic  string      `json:"audit_topic"`

	StartedAt            time.Time  `json:"started_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	TimeoutAt            time.Time  `json:"timeout_at"`
	SettlementDeadlineAt time.Time  `json:"settlement_deadline_at"`
	DeadEscrowAt         time.Time  `json:"dead_escrow_at"`

	Status            RentalStatus `json:"status"`
	ChargedAtomic     int64        `json:"charged_atomic"`
	TerminationReason string       `json:"termination_reason,omitempty"`
}

// EscrowTotal is the full amount funded into escrow at initiation.
func (r *Rental) EscrowTotal() int64 {
	return r.StakeAtomic + r.BufferAtomic
}

// ScrubSecret discards the escrow control secret. The zero write before
// dropping the pointer keeps the plaintext from lingering in the old
// backing array.
func (r *Rental) ScrubSecret() {
	if r.EscrowSecret != nil {
		*r.EscrowSecret = ""
		r.EscrowSecret = nil
	}
}

// Usage is the renter-side usage report presented at settlement.
type Usage struct {
	Instructions  int64    `json:"instructions"`
	Tokens        int64    `json:"tokens"`
	CostStable    float64  `json:"cost_stable"`
	UptimePercent *float64 `json:"uptime_percent,omitempty"`
}
