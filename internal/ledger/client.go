// Package ledger defines the boundary to the external Ledger Service that
// holds accounts and moves funds. All amounts are in the settlement
// currency's atomic unit.
package ledger

import "context"

// Output is one leg of a multi-output transfer.
type Output struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Client is the consumed ledger interface. Every operation returns a
// definitive success or failure; fund-moving calls must never be retried
// blindly on failure.
type Client interface {
	// CreateAccount provisions a fresh account controlled solely by the
	// given secret and returns its address.
	CreateAccount(ctx context.Context, controlKey string) (string, error)

	// Fund moves amount from a party's account into another account as a
	// single atomic transfer, under the service's operator authority.
	Fund(ctx context.Context, from, to string, amount int64) error

	// Transfer signs a single multi-output transfer out of from with the
	// account's control secret and submits it atomically.
	Transfer(ctx context.Context, from, secret string, outputs []Output) error

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, account string) (int64, error)
}
