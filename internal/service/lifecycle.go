package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentlease-backend/internal/audit"
	"agentlease-backend/internal/budget"
	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/fees"
	"agentlease-backend/internal/ledger"
	"agentlease-backend/internal/logger"
	"agentlease-backend/internal/oracle"
	"agentlease-backend/internal/policy"
	"agentlease-backend/internal/resolver"
	"agentlease-backend/internal/store"
)

const (
	// DefaultMaxAmountStable is the safety ceiling on stake and buffer.
	DefaultMaxAmountStable = 1_000_000

	// DefaultTerminationBaseFee caps the pro-rata early-termination charge,
	// in stable units.
	DefaultTerminationBaseFee = 5.0

	// DefaultTimeoutFee is the minimal network/treasury fee charged when a
	// renter claims a timeout, in stable units.
	DefaultTimeoutFee = 0.5

	// maxDurationMinutes bounds the expected duration to one year.
	maxDurationMinutes = 366 * 24 * 60
)

// Config carries the settlement parameters of the lifecycle manager.
type Config struct {
	NetworkAccount     string
	TreasuryAccount    string
	TerminationBaseFee float64
	TimeoutFee         float64
	MaxAmountStable    float64
	WarningThreshold   float64
	CriticalThreshold  float64
}

func (c *Config) applyDefaults() {
	if c.TerminationBaseFee <= 0 {
		c.TerminationBaseFee = DefaultTerminationBaseFee
	}
	if c.TimeoutFee <= 0 {
		c.TimeoutFee = DefaultTimeoutFee
	}
	if c.MaxAmountStable <= 0 {
		c.MaxAmountStable = DefaultMaxAmountStable
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = budget.DefaultWarningThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = budget.DefaultCriticalThreshold
	}
}

type lifecycleManager struct {
	cfg      Config
	store    *store.RentalStore
	ledger   ledger.Client
	auditLog audit.Log
	rates    oracle.RateOracle
	agents   resolver.Resolver
	timeouts policy.TimeoutPolicy
	locks    *keyLock
	now      func() time.Time

	monMu    sync.Mutex
	monitors map[string]*budget.Monitor
}

// NewLifecycleManager wires the rental state machine to its collaborators.
// Budget monitors for rentals already active in the store are rebuilt
// empty; live usage tracking does not survive a restart, settlement state
// does.
func NewLifecycleManager(
	cfg Config,
	st *store.RentalStore,
	lc ledger.Client,
	al audit.Log,
	rates oracle.RateOracle,
	agents resolver.Resolver,
	timeouts policy.TimeoutPolicy,
) RentalLifecycleService {
	cfg.applyDefaults()
	m := &lifecycleManager{
		cfg:      cfg,
		store:    st,
		ledger:   lc,
		auditLog: al,
		rates:    rates,
		agents:   agents,
		timeouts: timeouts,
		locks:    newKeyLock(),
		now:      time.Now,
		monitors: make(map[string]*budget.Monitor),
	}
	for _, r := range st.ListActive() {
		if mon, err := budget.NewMonitor(r.BufferStable, cfg.WarningThreshold, cfg.CriticalThreshold); err == nil {
			m.monitors[r.ID] = mon
		}
	}
	return m
}

func (m *lifecycleManager) Initiate(ctx context.Context, req InitiateRequest) (*domain.Rental, error) {
	logger.EnterMethod("lifecycleManager.Initiate", "renter_id", req.RenterID, "agent_id", req.AgentID, "type", req.Type)

	if err := m.validateInitiate(req); err != nil {
		return nil, err
	}

	info, err := m.agents.Resolve(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if info.Owner == req.RenterID {
		return nil, domain.Preconditionf("renter %s already owns agent %s", req.RenterID, req.AgentID)
	}

	rate, err := m.rates.GetRate(ctx)
	if err != nil {
		return nil, err
	}

	stakeAtomic, err := toAtomic(req.StakeStable, rate.Price)
	if err != nil {
		return nil, err
	}
	bufferAtomic, err := toAtomic(req.BufferStable, rate.Price)
	if err != nil {
		return nil, err
	}

	now := m.now()
	windows, err := m.timeouts.Compute(req.Type, req.ExpectedDurationMinutes, now)
	if err != nil {
		return nil, err
	}

	rentalID := fmt.Sprintf("rental-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	secret, err := newEscrowSecret()
	if err != nil {
		return nil, err
	}

	escrowAccount, err := m.ledger.CreateAccount(ctx, secret)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Fund(ctx, req.RenterID, escrowAccount, stakeAtomic+bufferAtomic); err != nil {
		return nil, err
	}

	rental := &domain.Rental{
		ID:                   rentalID,
		AgentID:              req.AgentID,
		Type:                 req.Type,
		RenterID:             req.RenterID,
		OwnerID:              info.Owner,
		StakeStable:          req.StakeStable,
		BufferStable:         req.BufferStable,
		StakeAtomic:          stakeAtomic,
		BufferAtomic:         bufferAtomic,
		RateSnapshot:         rate.Price,
		EscrowAccount:        escrowAccount,
		EscrowSecret:         &secret,
		AuditTopic:           info.AuditTopic,
		StartedAt:            now,
		TimeoutAt:            windows.TimeoutAt,
		SettlementDeadlineAt: windows.SettlementDeadlineAt,
		DeadEscrowAt:         windows.DeadEscrowAt,
		Status:               domain.RentalStatusActive,
	}
	if req.Constraints != nil {
		rental.Constraints = *req.Constraints
	}

	_, err = m.auditLog.Append(ctx, info.AuditTopic, domain.RentalInitiated{
		RentalID:      rentalID,
		AgentID:       req.AgentID,
		Type:          string(req.Type),
		RenterID:      req.RenterID,
		OwnerID:       info.Owner,
		EscrowAccount: escrowAccount,
		StakeAtomic:   stakeAtomic,
		BufferAtomic:  bufferAtomic,
		Rate:          rate.Price,
		TimeoutAt:     windows.TimeoutAt,
	})
	if err != nil {
		return nil, err
	}

	// The store write is the last step and marks success; an earlier
	// failure leaves no partial rental behind.
	if err := m.store.Put(rental); err != nil {
		return nil, err
	}

	mon, err := budget.NewMonitor(req.BufferStable, m.cfg.WarningThreshold, m.cfg.CriticalThreshold)
	if err == nil {
		m.monMu.Lock()
		m.monitors[rentalID] = mon
		m.monMu.Unlock()
	}

	logger.ExitMethod("lifecycleManager.Initiate", "rental_id", rentalID, "escrow_account", escrowAccount,
		"escrow_atomic", stakeAtomic+bufferAtomic)
	return rental, nil
}

func (m *lifecycleManager) validateInitiate(req InitiateRequest) error {
	if !req.Type.Valid() {
		return domain.Validationf("rental type must be one of FLASH, SESSION, TERM; got %q", req.Type)
	}
	if req.RenterID == "" || req.AgentID == "" {
		return domain.Validationf("renter id and agent id are required")
	}
	for name, amount := range map[string]float64{"stake": req.StakeStable, "buffer": req.BufferStable} {
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
			return domain.Validationf("%s must be a positive finite amount, got %v", name, amount)
		}
		if amount > m.cfg.MaxAmountStable {
			return domain.Validationf("%s %v exceeds the safety ceiling %v", name, amount, m.cfg.MaxAmountStable)
		}
	}
	if req.ExpectedDurationMinutes < 0 || req.ExpectedDurationMinutes > maxDurationMinutes {
		return domain.Validationf("expected duration must be between 0 and one year, got %d minutes", req.ExpectedDurationMinutes)
	}
	return nil
}

// Complete settles a rental against its reported usage. When usage is nil,
// the rental's live budget monitor supplies the accumulated summary.
func (m *lifecycleManager) Complete(ctx context.Context, callerID, rentalID string, usage *domain.Usage) error {
	logger.EnterMethod("lifecycleManager.Complete", "caller_id", callerID, "rental_id", rentalID)
	unlock := m.locks.lock(rentalID)
	defer unlock()

	r, err := m.loadForSettlement(callerID, rentalID)
	if err != nil {
		return err
	}

	if usage == nil {
		summary := m.usageSummary(rentalID)
		usage = &summary
	}
	if err := validateUsage(*usage); err != nil {
		return err
	}

	charged, err := m.chargeForUsage(r, *usage)
	if err != nil {
		return err
	}

	dist, err := m.settle(ctx, r, charged, true)
	if err != nil {
		return err
	}

	event := domain.RentalCompleted{
		RentalID:      rentalID,
		ActingParty:   callerID,
		ChargedAtomic: charged,
		Distribution:  dist,
		Instructions:  usage.Instructions,
		Tokens:        usage.Tokens,
	}
	return m.finalize(ctx, r, event, charged, "", domain.RentalStatusCompleted)
}

// Terminate ends a rental early. The charge is the elapsed share of the
// base fee, capped at the remaining buffer.
func (m *lifecycleManager) Terminate(ctx context.Context, callerID, rentalID, reason string) error {
	logger.EnterMethod("lifecycleManager.Terminate", "caller_id", callerID, "rental_id", rentalID, "reason", reason)
	unlock := m.locks.lock(rentalID)
	defer unlock()

	r, err := m.loadForSettlement(callerID, rentalID)
	if err != nil {
		return err
	}

	charged, err := m.terminationCharge(r)
	if err != nil {
		return err
	}

	dist, err := m.settle(ctx, r, charged, true)
	if err != nil {
		return err
	}

	event := domain.RentalTerminated{
		RentalID:      rentalID,
		ActingParty:   callerID,
		Reason:        reason,
		ChargedAtomic: charged,
		Distribution:  dist,
	}
	return m.finalize(ctx, r, event, charged, reason, domain.RentalStatusTerminated)
}

// ClaimTimeout lets the renter recover escrow after the owner missed the
// timeout. Only a minimal network/treasury fee is charged; the owner and
// creator take nothing because the rental never substantively completed.
func (m *lifecycleManager) ClaimTimeout(ctx context.Context, callerID, rentalID string) error {
	logger.EnterMethod("lifecycleManager.ClaimTimeout", "caller_id", callerID, "rental_id", rentalID)
	unlock := m.locks.lock(rentalID)
	defer unlock()

	r, err := m.loadForSettlement(callerID, rentalID)
	if err != nil {
		return err
	}
	if callerID != r.RenterID {
		return domain.Preconditionf("only the renter may claim a timeout on rental %s", rentalID)
	}
	now := m.now()
	if !now.After(r.TimeoutAt) {
		return domain.Preconditionf("rental %s has not timed out yet (timeout at %s)", rentalID, r.TimeoutAt.UTC().Format(time.RFC3339))
	}

	fee, err := toAtomic(m.cfg.TimeoutFee, r.RateSnapshot)
	if err != nil {
		return err
	}
	if fee > r.BufferAtomic {
		fee = r.BufferAtomic
	}

	dist, err := m.settle(ctx, r, fee, false)
	if err != nil {
		return err
	}

	event := domain.RentalTimeout{
		RentalID:      rentalID,
		ActingParty:   callerID,
		Settled:       false,
		ChargedAtomic: fee,
		Distribution:  dist,
	}
	return m.finalize(ctx, r, event, fee, "", domain.RentalStatusTimedOut)
}

// SettleTimeout is the owner's last chance, inside the settlement window,
// to claim legitimate usage after a missed Complete call. The settlement
// math is identical to Complete.
func (m *lifecycleManager) SettleTimeout(ctx context.Context, callerID, rentalID string, usage domain.Usage) error {
	logger.EnterMethod("lifecycleManager.SettleTimeout", "caller_id", callerID, "rental_id", rentalID)
	unlock := m.locks.lock(rentalID)
	defer unlock()

	r, err := m.loadForSettlement(callerID, rentalID)
	if err != nil {
		return err
	}
	if callerID != r.OwnerID {
		return domain.Preconditionf("only the owner may settle rental %s after timeout", rentalID)
	}
	now := m.now()
	if !now.After(r.TimeoutAt) {
		return domain.Preconditionf("rental %s has not timed out yet (timeout at %s)", rentalID, r.TimeoutAt.UTC().Format(time.RFC3339))
	}
	if now.After(r.SettlementDeadlineAt) {
		return domain.Preconditionf("settlement window for rental %s closed at %s", rentalID, r.SettlementDeadlineAt.UTC().Format(time.RFC3339))
	}

	if err := validateUsage(usage); err != nil {
		return err
	}
	charged, err := m.chargeForUsage(r, usage)
	if err != nil {
		return err
	}

	dist, err := m.settle(ctx, r, charged, true)
	if err != nil {
		return err
	}

	event := domain.RentalTimeout{
		RentalID:      rentalID,
		ActingParty:   callerID,
		Settled:       true,
		ChargedAtomic: charged,
		Distribution:  dist,
	}
	return m.finalize(ctx, r, event, charged, "", domain.RentalStatusCompleted)
}

func (m *lifecycleManager) GetRental(ctx context.Context, callerID, rentalID string) (*domain.Rental, error) {
	r, ok := m.store.Get(rentalID)
	if !ok {
		return nil, domain.Validationf("unknown rental %s", rentalID)
	}
	if callerID != r.RenterID && callerID != r.OwnerID {
		return nil, domain.Preconditionf("caller %s is not a party to rental %s", callerID, rentalID)
	}
	return r, nil
}

func (m *lifecycleManager) ListRentals(ctx context.Context, callerID string) ([]*domain.Rental, error) {
	if callerID == "" {
		return nil, domain.Validationf("caller id is required")
	}
	var out []*domain.Rental
	for _, r := range m.store.List() {
		if r.RenterID == callerID || r.OwnerID == callerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *lifecycleManager) RecordUsage(ctx context.Context, callerID, rentalID string, cost float64, tokens, instructions int64) error {
	r, ok := m.store.Get(rentalID)
	if !ok {
		return domain.Validationf("unknown rental %s", rentalID)
	}
	if callerID != r.RenterID {
		return domain.Preconditionf("only the renter may record usage on rental %s", rentalID)
	}
	if r.Status != domain.RentalStatusActive {
		return domain.Preconditionf("rental %s is %s, not active", rentalID, r.Status)
	}

	mon := m.monitor(rentalID)
	if mon == nil {
		return domain.Preconditionf("rental %s has no live budget monitor", rentalID)
	}
	if err := mon.RecordUsage(cost, tokens, instructions); err != nil {
		return err
	}

	status := mon.GetStatus()
	if status.Level != budget.LevelOK {
		logger.Warn("Rental budget threshold crossed", "rental_id", rentalID,
			"level", status.Level, "percent_used", status.PercentUsed)
	}
	return nil
}

func (m *lifecycleManager) BudgetStatus(ctx context.Context, callerID, rentalID string) (budget.Status, error) {
	r, ok := m.store.Get(rentalID)
	if !ok {
		return budget.Status{}, domain.Validationf("unknown rental %s", rentalID)
	}
	if callerID != r.RenterID && callerID != r.OwnerID {
		return budget.Status{}, domain.Preconditionf("caller %s is not a party to rental %s", callerID, rentalID)
	}
	mon := m.monitor(rentalID)
	if mon == nil {
		return budget.Status{}, domain.Preconditionf("rental %s has no live budget monitor", rentalID)
	}
	return mon.GetStatus(), nil
}

func (m *lifecycleManager) GetTimedOutRentals(now time.Time) []*domain.Rental {
	var out []*domain.Rental
	for _, r := range m.store.ListActive() {
		if now.After(r.TimeoutAt) {
			out = append(out, r)
		}
	}
	return out
}

func (m *lifecycleManager) GetDeadEscrows(now time.Time) []*domain.Rental {
	var out []*domain.Rental
	for _, r := range m.store.ListActive() {
		if now.After(r.DeadEscrowAt) {
			out = append(out, r)
		}
	}
	return out
}

// loadForSettlement fetches a rental and runs the checks shared by every
// settlement path: party membership, double-settlement, and terminal-state
// monotonicity. The conflict check precedes the status check so a repeated
// settlement surfaces as a conflict, not a precondition failure.
func (m *lifecycleManager) loadForSettlement(callerID, rentalID string) (*domain.Rental, error) {
	r, ok := m.store.Get(rentalID)
	if !ok {
		return nil, domain.Validationf("unknown rental %s", rentalID)
	}
	if callerID != r.RenterID && callerID != r.OwnerID {
		return nil, domain.Preconditionf("caller %s is not a party to rental %s", callerID, rentalID)
	}
	if r.EscrowSecret == nil {
		return nil, domain.Conflictf("rental %s is already settled", rentalID)
	}
	if r.Status != domain.RentalStatusActive {
		return nil, domain.Preconditionf("rental %s is %s, not active", rentalID, r.Status)
	}
	return r, nil
}

// settle executes the single multi-output transfer out of escrow. charged
// is capped at the buffer; the remainder of the escrowed total refunds to
// the renter, so the distribution always sums exactly to stake + buffer.
func (m *lifecycleManager) settle(ctx context.Context, r *domain.Rental, charged int64, ownerSplit bool) (domain.Distribution, error) {
	if charged > r.BufferAtomic {
		charged = r.BufferAtomic
	}

	var (
		split fees.Split
		err   error
	)
	if ownerSplit {
		split, err = fees.SplitRental(charged)
	} else {
		split, err = fees.SplitTimeoutFee(charged)
	}
	if err != nil {
		return domain.Distribution{}, err
	}

	creator := ""
	if ownerSplit && split.CreatorShare > 0 {
		info, rerr := m.agents.Resolve(ctx, r.AgentID)
		if rerr != nil {
			return domain.Distribution{}, rerr
		}
		creator = info.Creator
		if creator == "" {
			// No registered creator: the owner absorbs that share too.
			split.OwnerShare += split.CreatorShare
			split.CreatorShare = 0
		}
	}

	dist := domain.Distribution{
		OwnerShare:    split.OwnerShare,
		CreatorShare:  split.CreatorShare,
		NetworkShare:  split.NetworkShare,
		TreasuryShare: split.TreasuryShare,
		RenterRefund:  r.EscrowTotal() - charged,
	}

	var outputs []ledger.Output
	add := func(account string, amount int64) {
		if amount > 0 && account != "" {
			outputs = append(outputs, ledger.Output{Account: account, Amount: amount})
		}
	}
	add(r.OwnerID, dist.OwnerShare)
	add(creator, dist.CreatorShare)
	add(m.cfg.NetworkAccount, dist.NetworkShare)
	add(m.cfg.TreasuryAccount, dist.TreasuryShare)
	add(r.RenterID, dist.RenterRefund)

	if err := m.ledger.Transfer(ctx, r.EscrowAccount, *r.EscrowSecret, outputs); err != nil {
		return domain.Distribution{}, err
	}
	return dist, nil
}

// finalize appends the audit event, moves the record to its terminal state
// (scrubbing the secret), and drops the budget monitor.
func (m *lifecycleManager) finalize(ctx context.Context, r *domain.Rental, event domain.AuditEvent, charged int64, reason string, status domain.RentalStatus) error {
	if _, err := m.auditLog.Append(ctx, r.AuditTopic, event); err != nil {
		return err
	}

	now := m.now()
	r.ChargedAtomic = charged
	r.TerminationReason = reason
	if err := m.store.Put(r); err != nil {
		return err
	}
	if err := m.store.Complete(r.ID, status, now); err != nil {
		return err
	}

	m.monMu.Lock()
	delete(m.monitors, r.ID)
	m.monMu.Unlock()

	logger.ExitMethod("lifecycleManager.finalize", "rental_id", r.ID, "status", status, "charged_atomic", charged)
	return nil
}

func (m *lifecycleManager) chargeForUsage(r *domain.Rental, usage domain.Usage) (int64, error) {
	cost := usage.CostStable
	if cost > r.BufferStable {
		cost = r.BufferStable
	}
	charged, err := toAtomic(cost, r.RateSnapshot)
	if err != nil {
		return 0, err
	}
	if charged > r.BufferAtomic {
		charged = r.BufferAtomic
	}
	return charged, nil
}

// terminationCharge is the elapsed share of the base fee: zero at start,
// the full base fee at the timeout boundary.
func (m *lifecycleManager) terminationCharge(r *domain.Rental) (int64, error) {
	baseFee, err := toAtomic(m.cfg.TerminationBaseFee, r.RateSnapshot)
	if err != nil {
		return 0, err
	}

	window := r.TimeoutAt.Sub(r.StartedAt)
	fraction := 1.0
	if window > 0 {
		fraction = float64(m.now().Sub(r.StartedAt)) / float64(window)
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
	}

	charged := int64(math.Round(float64(baseFee) * fraction))
	if charged > r.BufferAtomic {
		charged = r.BufferAtomic
	}
	return charged, nil
}

func (m *lifecycleManager) monitor(rentalID string) *budget.Monitor {
	m.monMu.Lock()
	defer m.monMu.Unlock()
	return m.monitors[rentalID]
}

func (m *lifecycleManager) usageSummary(rentalID string) domain.Usage {
	if mon := m.monitor(rentalID); mon != nil {
		return mon.GetUsageSummary()
	}
	return domain.Usage{}
}

func validateUsage(u domain.Usage) error {
	if math.IsNaN(u.CostStable) || math.IsInf(u.CostStable, 0) || u.CostStable < 0 {
		return domain.Validationf("usage cost must be a non-negative finite amount, got %v", u.CostStable)
	}
	if u.Instructions < 0 || u.Tokens < 0 {
		return domain.Validationf("instruction and token counts must be non-negative")
	}
	if u.UptimePercent != nil && (*u.UptimePercent < 0 || *u.UptimePercent > 100) {
		return domain.Validationf("uptime percent must be within [0, 100], got %v", *u.UptimePercent)
	}
	return nil
}

// toAtomic converts a stable-unit amount to atomic units at the given rate
// (stable units per atomic unit).
func toAtomic(stable, rate float64) (int64, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, domain.Validationf("conversion rate must be positive and finite, got %v", rate)
	}
	atomic := math.Round(stable / rate)
	if atomic < 0 || atomic > math.MaxInt64/2 {
		return 0, domain.Validationf("amount %v at rate %v is out of range", stable, rate)
	}
	return int64(atomic), nil
}

func newEscrowSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate escrow secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
