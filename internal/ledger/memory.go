package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"agentlease-backend/internal/domain"
)

// MemLedger is an in-process ledger used by tests and dev mode. Account
// addresses are derived deterministically from the control key, and
// transfers verify the control secret and apply all outputs atomically.
type MemLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	control  map[string]string // account -> control key
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[string]int64),
		control:  make(map[string]string),
	}
}

// Mint credits an account directly, bypassing transfer rules. Test and dev
// setup only.
func (l *MemLedger) Mint(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *MemLedger) CreateAccount(_ context.Context, controlKey string) (string, error) {
	if controlKey == "" {
		return "", domain.Dependency("ledger", fmt.Errorf("control key must not be empty"))
	}
	sum := blake2b.Sum256([]byte(controlKey))
	account := "acct-" + hex.EncodeToString(sum[:8])

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.control[account]; exists {
		return "", domain.Dependency("ledger", fmt.Errorf("account %s already exists", account))
	}
	l.control[account] = controlKey
	l.balances[account] = 0
	return account, nil
}

func (l *MemLedger) Fund(_ context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return domain.Dependency("ledger", fmt.Errorf("funding amount must be positive, got %d", amount))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return domain.Dependency("ledger", fmt.Errorf("account %s has insufficient funds for %d", from, amount))
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *MemLedger) Transfer(_ context.Context, from, secret string, outputs []Output) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	control, ok := l.control[from]
	if !ok {
		return domain.Dependency("ledger", fmt.Errorf("unknown account %s", from))
	}
	if control != secret {
		return domain.Dependency("ledger", fmt.Errorf("signature rejected for account %s", from))
	}

	var total int64
	for _, out := range outputs {
		if out.Amount < 0 {
			return domain.Dependency("ledger", fmt.Errorf("negative output amount %d", out.Amount))
		}
		total += out.Amount
	}
	if l.balances[from] < total {
		return domain.Dependency("ledger", fmt.Errorf("account %s balance %d below transfer total %d", from, l.balances[from], total))
	}

	l.balances[from] -= total
	for _, out := range outputs {
		l.balances[out.Account] += out.Amount
	}
	return nil
}

func (l *MemLedger) Balance(_ context.Context, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}
