// Package fees computes settlement fee splits in atomic units.
package fees

import "agentlease-backend/internal/domain"

// Basis-point shares for a rental settlement. The owner's share is never
// computed directly from its bps value: it is the remainder after the fixed
// shares, so the four shares always partition the charged amount exactly.
const (
	BpsDenominator = 10_000

	RentalOwnerBps    = 9_200
	RentalCreatorBps  = 500
	RentalNetworkBps  = 200
	RentalTreasuryBps = 100

	// Outright sales use a three-way split with no treasury cut.
	SaleOwnerBps   = 9_300
	SaleCreatorBps = 500
	SaleNetworkBps = 200
)

// Split is the four-way partition of a charged amount.
type Split struct {
	OwnerShare    int64
	CreatorShare  int64
	NetworkShare  int64
	TreasuryShare int64
}

// Total returns the sum of all shares.
func (s Split) Total() int64 {
	return s.OwnerShare + s.CreatorShare + s.NetworkShare + s.TreasuryShare
}

// SplitRental partitions a non-negative charged amount using the rental
// split. The creator, network, and treasury shares floor; the owner share
// absorbs the rounding remainder, so s.Total() == charged for every input.
func SplitRental(charged int64) (Split, error) {
	if charged < 0 {
		return Split{}, domain.Validationf("charged amount must be non-negative, got %d", charged)
	}
	s := Split{
		CreatorShare:  charged * RentalCreatorBps / BpsDenominator,
		NetworkShare:  charged * RentalNetworkBps / BpsDenominator,
		TreasuryShare: charged * RentalTreasuryBps / BpsDenominator,
	}
	s.OwnerShare = charged - s.CreatorShare - s.NetworkShare - s.TreasuryShare
	return s, nil
}

// SplitTimeoutFee partitions the minimal fee charged when a renter claims a
// timeout. The rental never substantively completed, so the owner and
// creator take nothing: the network share floors and the treasury absorbs
// the remainder.
func SplitTimeoutFee(fee int64) (Split, error) {
	if fee < 0 {
		return Split{}, domain.Validationf("timeout fee must be non-negative, got %d", fee)
	}
	s := Split{
		NetworkShare: fee * RentalNetworkBps / (RentalNetworkBps + RentalTreasuryBps),
	}
	s.TreasuryShare = fee - s.NetworkShare
	return s, nil
}
