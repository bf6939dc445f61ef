package domain

import "time"

// Distribution is the per-stakeholder breakdown of a settlement, in atomic
// units. Shares plus the renter refund always sum to the amount originally
// escrowed.
type Distribution struct {
	OwnerShare    int64 `json:"owner_share"`
	CreatorShare  int64 `json:"creator_share"`
	NetworkShare  int64 `json:"network_share"`
	TreasuryShare int64 `json:"treasury_share"`
	RenterRefund  int64 `json:"renter_refund"`
}

// Total returns the sum of all outputs in the distribution.
func (d Distribution) Total() int64 {
	return d.OwnerShare + d.CreatorShare + d.NetworkShare + d.TreasuryShare + d.RenterRefund
}

// AuditEvent is the closed set of structured events appended to the audit
// log. Every lifecycle transition emits exactly one event before the
// operation returns.
type AuditEvent interface {
	EventType() string
	RentalRef() string
}

type RentalInitiated struct {
	RentalID      string    `json:"rental_id"`
	AgentID       string    `json:"agent_id"`
	Type          string    `json:"type"`
	RenterID      string    `json:"renter_id"`
	OwnerID       string    `json:"owner_id"`
	EscrowAccount string    `json:"escrow_account"`
	StakeAtomic   int64     `json:"stake_atomic"`
	BufferAtomic  int64     `json:"buffer_atomic"`
	Rate          float64   `json:"rate"`
	TimeoutAt     time.Time `json:"timeout_at"`
}

func (e RentalInitiated) EventType() string { return "rental_initiated" }
func (e RentalInitiated) RentalRef() string { return e.RentalID }

type RentalCompleted struct {
	RentalID      string       `json:"rental_id"`
	ActingParty   string       `json:"acting_party"`
	ChargedAtomic int64        `json:"charged_atomic"`
	Distribution  Distribution `json:"distribution"`
	Instructions  int64        `json:"instructions"`
	Tokens        int64        `json:"tokens"`
}

func (e RentalCompleted) EventType() string { return "rental_completed" }
func (e RentalCompleted) RentalRef() string { return e.RentalID }

type RentalTerminated struct {
	RentalID      string       `json:"rental_id"`
	ActingParty   string       `json:"acting_party"`
	Reason        string       `json:"reason,omitempty"`
	ChargedAtomic int64        `json:"charged_atomic"`
	Distribution  Distribution `json:"distribution"`
}

func (e RentalTerminated) EventType() string { return "rental_terminated" }
func (e RentalTerminated) RentalRef() string { return e.RentalID }

type RentalTimeout struct {
	RentalID      string       `json:"rental_id"`
	ActingParty   string       `json:"acting_party"`
	Settled       bool         `json:"settled"` // true for an owner settleTimeout, false for a renter claim
	ChargedAtomic int64        `json:"charged_atomic"`
	Distribution  Distribution `json:"distribution"`
}

func (e RentalTimeout) EventType() string { return "rental_timeout" }
func (e RentalTimeout) RentalRef() string { return e.RentalID }
