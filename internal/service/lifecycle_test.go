package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlease-backend/internal/audit"
	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/ledger"
	"agentlease-backend/internal/oracle"
	"agentlease-backend/internal/policy"
	"agentlease-backend/internal/resolver"
	"agentlease-backend/internal/store"
)

const (
	renterAcct   = "acct-renter"
	ownerAcct    = "acct-owner"
	creatorAcct  = "acct-creator"
	networkAcct  = "acct-network"
	treasuryAcct = "acct-treasury"

	testAgent = "agent-1"
	testTopic = "topic-agent-1"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *lifecycleManager
	ledger   *ledger.MemLedger
	auditLog *audit.MemLog
	store    *store.RentalStore
}

// newFixture builds a lifecycle manager over the in-process collaborators
// with a fixed 0.10 conversion rate and a pinned clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "rentals.json"))
	require.NoError(t, err)

	lc := ledger.NewMemLedger()
	lc.Mint(renterAcct, 10_000)

	al := audit.NewMemLog()

	agents := resolver.Static{
		testAgent:      {Owner: ownerAcct, Creator: creatorAcct, AuditTopic: testTopic},
		"agent-orphan": {Owner: ownerAcct, AuditTopic: "topic-agent-orphan"},
	}

	svc := NewLifecycleManager(
		Config{NetworkAccount: networkAcct, TreasuryAccount: treasuryAcct},
		st, lc, al,
		oracle.NewService(oracle.Config{}, oracle.WithFixedRate(0.10)),
		agents,
		policy.Default(),
	)

	m := svc.(*lifecycleManager)
	m.now = func() time.Time { return baseTime }

	return &fixture{manager: m, ledger: lc, auditLog: al, store: st}
}

func (f *fixture) setClock(at time.Time) {
	f.manager.now = func() time.Time { return at }
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func (f *fixture) initiateSession(t *testing.T) *domain.Rental {
	t.Helper()
	r, err := f.manager.Initiate(context.Background(), InitiateRequest{
		RenterID:                renterAcct,
		AgentID:                 testAgent,
		Type:                    domain.RentalTypeSession,
		StakeStable:             50,
		BufferStable:            100,
		ExpectedDurationMinutes: 30,
	})
	require.NoError(t, err)
	return r
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.initiateSession(t)

	// 50 stable stake and 100 stable buffer at 0.10 per atomic unit.
	assert.Equal(t, int64(500), r.StakeAtomic)
	assert.Equal(t, int64(1000), r.BufferAtomic)
	assert.Equal(t, 0.10, r.RateSnapshot)
	assert.Equal(t, ownerAcct, r.OwnerID)
	assert.Equal(t, domain.RentalStatusActive, r.Status)
	require.NotNil(t, r.EscrowSecret)
	assert.NotEmpty(t, *r.EscrowSecret)

	// SESSION grace is one hour on top of the expected 30 minutes.
	assert.Equal(t, baseTime.Add(90*time.Minute), r.TimeoutAt)
	assert.Equal(t, r.TimeoutAt.Add(24*time.Hour), r.SettlementDeadlineAt)
	assert.Equal(t, r.TimeoutAt.Add(7*24*time.Hour), r.DeadEscrowAt)

	// Escrow was funded from the renter's account.
	assert.Equal(t, int64(1500), f.balance(t, r.EscrowAccount))
	assert.Equal(t, int64(8500), f.balance(t, renterAcct))

	// The record is persisted before return.
	stored, ok := f.store.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RentalStatusActive, stored.Status)
	require.NotNil(t, stored.EscrowSecret)

	entries := f.auditLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, testTopic, entries[0].Topic)
	assert.Equal(t, "rental_initiated", entries[0].Event.EventType())

	// Both parties see the rental; a stranger does not.
	_, err := f.manager.GetRental(ctx, renterAcct, r.ID)
	assert.NoError(t, err)
	_, err = f.manager.GetRental(ctx, ownerAcct, r.ID)
	assert.NoError(t, err)
	_, err = f.manager.GetRental(ctx, "acct-stranger", r.ID)
	var preErr *domain.PreconditionError
	assert.ErrorAs(t, err, &preErr)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := InitiateRequest{
		RenterID:                renterAcct,
		AgentID:                 testAgent,
		Type:                    domain.RentalTypeSession,
		StakeStable:             50,
		BufferStable:            100,
		ExpectedDurationMinutes: 30,
	}

	t.Run("Bad Type", func(t *testing.T) {
		req := base
		req.Type = "PERPETUAL"
		_, err := f.manager.Initiate(ctx, req)
		var valErr *domain.ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("Zero Stake", func(t *testing.T) {
		req := base
		req.StakeStable = 0
		_, err := f.manager.Initiate(ctx, req)
		var valErr *domain.ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("Stake Over Ceiling", func(t *testing.T) {
		req := base
		req.StakeStable = 2_000_000
		_, err := f.manager.Initiate(ctx, req)
		var valErr *domain.ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("Unknown Agent", func(t *testing.T) {
		req := base
		req.AgentID = "agent-nope"
		_, err := f.manager.Initiate(ctx, req)
		var valErr *domain.ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("Owner Renting Own Agent", func(t *testing.T) {
		req := base
		req.RenterID = ownerAcct
		_, err := f.manager.Initiate(ctx, req)
		var preErr *domain.PreconditionError
		assert.ErrorAs(t, err, &preErr)
	})

	t.Run("Insufficient Renter Funds", func(t *testing.T) {
		req := base
		req.StakeStable = 900 // 9000 atomic, renter holds 10_000 total
		req.BufferStable = 200
		_, err := f.manager.Initiate(ctx, req)
		var depErr *domain.DependencyError
		assert.ErrorAs(t, err, &depErr)
	})

	// No partial rentals behind any of the failures.
	assert.Equal(t, 0, f.store.Len())
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	usage := &domain.Usage{Instructions: 12, Tokens: 4000, CostStable: 30}
	require.NoError(t, f.manager.Complete(ctx, ownerAcct, r.ID, usage))

	// 30 stable at 0.10 is 300 atomic, split 92/5/2/1 with the owner
	// absorbing rounding; the rest of the 1500 escrowed refunds.
	assert.Equal(t, int64(276), f.balance(t, ownerAcct))
	assert.Equal(t, int64(15), f.balance(t, creatorAcct))
	assert.Equal(t, int64(6), f.balance(t, networkAcct))
	assert.Equal(t, int64(3), f.balance(t, treasuryAcct))
	assert.Equal(t, int64(8500+1200), f.balance(t, renterAcct))
	assert.Equal(t, int64(0), f.balance(t, r.EscrowAccount))

	stored, ok := f.store.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RentalStatusCompleted, stored.Status)
	assert.Equal(t, int64(300), stored.ChargedAtomic)
	assert.Nil(t, stored.EscrowSecret)
	require.NotNil(t, stored.EndedAt)

	entries := f.auditLog.Entries()
	require.Len(t, entries, 2)
	completed, ok := entries[1].Event.(domain.RentalCompleted)
	require.True(t, ok)
	assert.Equal(t, int64(300), completed.ChargedAtomic)
	assert.Equal(t, int64(1500), completed.Distribution.Total())
}

func TestCompleteChargeCappedAtBuffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	// Reported cost far beyond the buffer: the charge caps at the buffer
	// and the stake still comes back.
	usage := &domain.Usage{CostStable: 5000}
	require.NoError(t, f.manager.Complete(ctx, ownerAcct, r.ID, usage))

	stored, _ := f.store.Get(r.ID)
	assert.Equal(t, int64(1000), stored.ChargedAtomic)
	assert.Equal(t, int64(8500+500), f.balance(t, renterAcct))
}

func TestCompleteFromMonitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	require.NoError(t, f.manager.RecordUsage(ctx, renterAcct, r.ID, 20, 1000, 4))
	require.NoError(t, f.manager.RecordUsage(ctx, renterAcct, r.ID, 10, 500, 2))

	// Nil usage settles against the monitor's accumulated 30 stable.
	require.NoError(t, f.manager.Complete(ctx, ownerAcct, r.ID, nil))

	stored, _ := f.store.Get(r.ID)
	assert.Equal(t, int64(300), stored.ChargedAtomic)
}

func TestDoubleSettlementConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	require.NoError(t, f.manager.Terminate(ctx, renterAcct, r.ID, "changed my mind"))

	before, _ := f.store.Get(r.ID)
	renterBefore := f.balance(t, renterAcct)

	// Any second settlement attempt, by any party and any verb, is a
	// conflict and leaves the record and balances untouched.
	var conflict *domain.ConflictError
	assert.ErrorAs(t, f.manager.Terminate(ctx, renterAcct, r.ID, "again"), &conflict)
	assert.ErrorAs(t, f.manager.Complete(ctx, ownerAcct, r.ID, &domain.Usage{CostStable: 10}), &conflict)
	assert.ErrorAs(t, f.manager.ClaimTimeout(ctx, renterAcct, r.ID), &conflict)

	after, _ := f.store.Get(r.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.ChargedAtomic, after.ChargedAtomic)
	assert.Equal(t, renterBefore, f.balance(t, renterAcct))
}

func TestTerminateProRataCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	// Halfway through the 90-minute window: half the 5.0 stable base fee,
	// 25 atomic at the snapshot rate.
	f.setClock(baseTime.Add(45 * time.Minute))
	require.NoError(t, f.manager.Terminate(ctx, renterAcct, r.ID, "done early"))

	stored, _ := f.store.Get(r.ID)
	assert.Equal(t, domain.RentalStatusTerminated, stored.Status)
	assert.Equal(t, "done early", stored.TerminationReason)
	assert.Equal(t, int64(25), stored.ChargedAtomic)
	assert.Equal(t, int64(8500+1475), f.balance(t, renterAcct))

	entries := f.auditLog.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "rental_terminated", entries[1].Event.EventType())
}

func TestClaimTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	t.Run("Too Early", func(t *testing.T) {
		f.setClock(baseTime.Add(89 * time.Minute))
		var preErr *domain.PreconditionError
		assert.ErrorAs(t, f.manager.ClaimTimeout(ctx, renterAcct, r.ID), &preErr)
	})

	t.Run("Owner Cannot Claim", func(t *testing.T) {
		f.setClock(baseTime.Add(91 * time.Minute))
		var preErr *domain.PreconditionError
		assert.ErrorAs(t, f.manager.ClaimTimeout(ctx, ownerAcct, r.ID), &preErr)
	})

	t.Run("Renter Claims After Timeout", func(t *testing.T) {
		f.setClock(baseTime.Add(91 * time.Minute))
		require.NoError(t, f.manager.ClaimTimeout(ctx, renterAcct, r.ID))

		// The 0.5 stable timeout fee is 5 atomic, split between network
		// and treasury only; everything else comes back.
		assert.Equal(t, int64(0), f.balance(t, ownerAcct))
		assert.Equal(t, int64(0), f.balance(t, creatorAcct))
		assert.Equal(t, int64(3), f.balance(t, networkAcct))
		assert.Equal(t, int64(2), f.balance(t, treasuryAcct))
		assert.Equal(t, int64(8500+1495), f.balance(t, renterAcct))

		stored, _ := f.store.Get(r.ID)
		assert.Equal(t, domain.RentalStatusTimedOut, stored.Status)
		assert.Nil(t, stored.EscrowSecret)

		entries := f.auditLog.Entries()
		require.Len(t, entries, 2)
		timeout, ok := entries[1].Event.(domain.RentalTimeout)
		require.True(t, ok)
		assert.False(t, timeout.Settled)
	})
}

func TestSettleTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("Owner Settles Inside Window", func(t *testing.T) {
		r := f.initiateSession(t)
		f.setClock(baseTime.Add(2 * time.Hour))

		require.NoError(t, f.manager.SettleTimeout(ctx, ownerAcct, r.ID, domain.Usage{CostStable: 30}))

		stored, _ := f.store.Get(r.ID)
		assert.Equal(t, domain.RentalStatusCompleted, stored.Status)
		assert.Equal(t, int64(300), stored.ChargedAtomic)

		entries := f.auditLog.Entries()
		timeout, ok := entries[len(entries)-1].Event.(domain.RentalTimeout)
		require.True(t, ok)
		assert.True(t, timeout.Settled)
	})

	t.Run("Renter Cannot Settle", func(t *testing.T) {
		f.setClock(baseTime)
		r := f.initiateSession(t)
		f.setClock(baseTime.Add(2 * time.Hour))

		var preErr *domain.PreconditionError
		assert.ErrorAs(t, f.manager.SettleTimeout(ctx, renterAcct, r.ID, domain.Usage{}), &preErr)
	})

	t.Run("Window Closed", func(t *testing.T) {
		f.setClock(baseTime)
		r := f.initiateSession(t)
		f.setClock(r.SettlementDeadlineAt.Add(time.Minute))

		var preErr *domain.PreconditionError
		assert.ErrorAs(t, f.manager.SettleTimeout(ctx, ownerAcct, r.ID, domain.Usage{CostStable: 30}), &preErr)

		// The escrow stays claimable by the renter.
		require.NoError(t, f.manager.ClaimTimeout(ctx, renterAcct, r.ID))
	})

	t.Run("Before Timeout", func(t *testing.T) {
		f.setClock(baseTime)
		r := f.initiateSession(t)
		f.setClock(baseTime.Add(10 * time.Minute))

		var preErr *domain.PreconditionError
		assert.ErrorAs(t, f.manager.SettleTimeout(ctx, ownerAcct, r.ID, domain.Usage{CostStable: 30}), &preErr)
	})
}

func TestCreatorShareFoldsIntoOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.manager.Initiate(ctx, InitiateRequest{
		RenterID:                renterAcct,
		AgentID:                 "agent-orphan",
		Type:                    domain.RentalTypeSession,
		StakeStable:             50,
		BufferStable:            100,
		ExpectedDurationMinutes: 30,
	})
	require.NoError(t, err)

	require.NoError(t, f.manager.Complete(ctx, ownerAcct, r.ID, &domain.Usage{CostStable: 30}))

	// No registered creator: the 15-unit creator share joins the owner's.
	assert.Equal(t, int64(276+15), f.balance(t, ownerAcct))
	assert.Equal(t, int64(0), f.balance(t, creatorAcct))
}

func TestRecordUsageAndBudgetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.initiateSession(t)

	require.NoError(t, f.manager.RecordUsage(ctx, renterAcct, r.ID, 85, 2000, 10))

	status, err := f.manager.BudgetStatus(ctx, renterAcct, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 85.0, status.Used)
	assert.Equal(t, 15.0, status.Remaining)

	// Owner may read the budget too; a stranger may not.
	_, err = f.manager.BudgetStatus(ctx, ownerAcct, r.ID)
	assert.NoError(t, err)
	_, err = f.manager.BudgetStatus(ctx, "acct-stranger", r.ID)
	var preErr *domain.PreconditionError
	assert.ErrorAs(t, err, &preErr)

	// Only the renter records usage.
	assert.ErrorAs(t, f.manager.RecordUsage(ctx, ownerAcct, r.ID, 1, 0, 0), &preErr)

	// Settled rentals accept no further usage.
	require.NoError(t, f.manager.Complete(ctx, ownerAcct, r.ID, nil))
	assert.ErrorAs(t, f.manager.RecordUsage(ctx, renterAcct, r.ID, 1, 0, 0), &preErr)
}

func TestListRentals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initiateSession(t)
	f.initiateSession(t)

	mine, err := f.manager.ListRentals(ctx, renterAcct)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := f.manager.ListRentals(ctx, ownerAcct)
	require.NoError(t, err)
	assert.Len(t, theirs, 2)

	none, err := f.manager.ListRentals(ctx, "acct-stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSweepScans(t *testing.T) {
	f := newFixture(t)
	r := f.initiateSession(t)

	assert.Empty(t, f.manager.GetTimedOutRentals(baseTime))
	assert.Len(t, f.manager.GetTimedOutRentals(r.TimeoutAt.Add(time.Second)), 1)

	assert.Empty(t, f.manager.GetDeadEscrows(r.TimeoutAt.Add(time.Second)))
	assert.Len(t, f.manager.GetDeadEscrows(r.DeadEscrowAt.Add(time.Second)), 1)
}

func TestRestartRebuildsEmptyMonitors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rentals.json")

	st, err := store.Open(path)
	require.NoError(t, err)
	lc := ledger.NewMemLedger()
	lc.Mint(renterAcct, 10_000)
	al := audit.NewMemLog()
	agents := resolver.Static{testAgent: {Owner: ownerAcct, Creator: creatorAcct, AuditTopic: testTopic}}
	rates := oracle.NewService(oracle.Config{}, oracle.WithFixedRate(0.10))

	svc := NewLifecycleManager(Config{NetworkAccount: networkAcct, TreasuryAccount: treasuryAcct},
		st, lc, al, rates, agents, policy.Default())
	r, err := svc.Initiate(context.Background(), InitiateRequest{
		RenterID: renterAcct, AgentID: testAgent, Type: domain.RentalTypeSession,
		StakeStable: 50, BufferStable: 100, ExpectedDurationMinutes: 30,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RecordUsage(context.Background(), renterAcct, r.ID, 40, 0, 0))

	// Simulate a restart: reopen the snapshot and build a new manager over
	// it. Settlement state survives; live usage counters do not.
	st2, err := store.Open(path)
	require.NoError(t, err)
	svc2 := NewLifecycleManager(Config{NetworkAccount: networkAcct, TreasuryAccount: treasuryAcct},
		st2, lc, al, rates, agents, policy.Default())

	stored, err := svc2.GetRental(context.Background(), renterAcct, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RentalStatusActive, stored.Status)
	require.NotNil(t, stored.EscrowSecret)

	status, err := svc2.BudgetStatus(context.Background(), renterAcct, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.Used)

	// The rebuilt manager can still settle with the persisted secret.
	require.NoError(t, svc2.Complete(context.Background(), ownerAcct, r.ID, &domain.Usage{CostStable: 30}))
}
