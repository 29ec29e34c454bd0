package credit

import (
	"context"
	"log/slog"
	"time"

	"creditmesh/core/events"
	"creditmesh/observability"
)

// DefaultEscrowLowThreshold is the remaining-escrow percentage at which the
// scheduler asks for a refresh when no per-tier override is configured.
const DefaultEscrowLowThreshold uint8 = 20

// ReconciliationResult is the committee's answer to a reconciliation request.
type ReconciliationResult struct {
	Consensus           bool
	VotesReceived       int
	QuorumRequired      int
	NewConfirmedBalance int64
	Overdrafts          []Overdraft
}

// Committee is the external BFT committee contract the scheduler consumes.
// Grant and reconcile calls suspend for the duration of the committee's voting
// round; callers bound them with the context. A context error surfaces
// unchanged so callers can tell "committee said no" from "committee did not
// answer".
type Committee interface {
	Size() int
	Quorum() int
	MaxByzantineFaults() int
	GrantEscrow(ctx context.Context, account *CreditAccount, deviceID string, tier Tier) (*DeviceEscrow, error)
	ReconcileBalance(ctx context.Context, account *CreditAccount) (*ReconciliationResult, error)
}

// Scheduler orchestrates the mutual-credit ledger for one device: the local
// spend fast path, escrow refreshes, overdraft detection and resolution, and
// committee reconciliation. It holds only shared handles to its
// collaborators, so the value is cheaply copyable into spawned goroutines.
type Scheduler struct {
	accounts  *AccountStore
	committee Committee
	escrows   *EscrowManager
	deviceID  string

	lowThreshold uint8
	log          *slog.Logger
	emitter      events.Emitter
	nowFn        func() int64
}

// NewScheduler wires a scheduler for the given device with a fresh escrow
// cache, the default low watermark, and a no-op emitter.
func NewScheduler(accounts *AccountStore, committee Committee, deviceID string) *Scheduler {
	return &Scheduler{
		accounts:     accounts,
		committee:    committee,
		escrows:      NewEscrowManager(),
		deviceID:     deviceID,
		lowThreshold: DefaultEscrowLowThreshold,
		log:          slog.Default(),
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (s *Scheduler) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetLogger configures the structured logger. Passing nil resets to the
// process default.
func (s *Scheduler) SetLogger(log *slog.Logger) {
	if log == nil {
		s.log = slog.Default()
		return
	}
	s.log = log
}

// SetLowThreshold overrides the refresh low watermark percentage.
func (s *Scheduler) SetLowThreshold(percent uint8) {
	if percent == 0 || percent > 100 {
		return
	}
	s.lowThreshold = percent
}

// SetNowFunc overrides the time source for the scheduler and its escrow
// cache. Primarily intended for tests.
func (s *Scheduler) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
	} else {
		s.nowFn = now
	}
	s.escrows.SetNowFunc(now)
}

// Escrows exposes the escrow cache, mainly so hosts and tests can seed
// grants out of band.
func (s *Scheduler) Escrows() *EscrowManager { return s.escrows }

// DeviceID returns the device this scheduler authorises spends for.
func (s *Scheduler) DeviceID() string { return s.deviceID }

func (s *Scheduler) emit(event events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(event)
	}
}

// SpendLocal authorises a spend against the device's escrow without any
// network call in its synchronous body: escrow check, atomic decrement, and
// one account mutation appending the InEscrow transaction. When the escrow
// drops below the low watermark a refresh is requested on a detached
// goroutine whose failure is logged, never propagated.
func (s *Scheduler) SpendLocal(ctx context.Context, accountID string, amount int64, recipient string, metadata Metadata) (string, error) {
	start := time.Now()
	metrics := observability.Credit()

	if amount <= 0 {
		return "", &InvalidOperationError{Reason: "spend amount must be positive"}
	}

	escrow, err := s.escrows.Get(accountID, s.deviceID)
	if err != nil {
		metrics.ObserveSpend("no_escrow", time.Since(start).Seconds())
		return "", err
	}
	if escrow.Remaining < amount {
		metrics.ObserveSpend("insufficient", time.Since(start).Seconds())
		return "", &InsufficientEscrowError{Available: escrow.Remaining, Requested: amount}
	}

	// Atomic check-and-decrement; the pre-check above only shapes the error.
	if err := s.escrows.Spend(accountID, s.deviceID, amount); err != nil {
		metrics.ObserveSpend("rejected", time.Since(start).Seconds())
		return "", err
	}

	tx := NewTransaction(accountID, recipient, amount, metadata, s.nowFn())
	if err := tx.Transition(StatusInEscrow); err != nil {
		return "", err
	}

	handle, err := s.accounts.Load(accountID)
	if err != nil {
		s.undoSpend(accountID, amount)
		metrics.ObserveSpend("error", time.Since(start).Seconds())
		return "", err
	}
	if err := handle.Update(func(account *CreditAccount) error {
		account.AddTransaction(tx)
		return nil
	}); err != nil {
		s.undoSpend(accountID, amount)
		metrics.ObserveSpend("error", time.Since(start).Seconds())
		return "", err
	}

	if low, err := s.escrows.Low(accountID, s.deviceID, s.lowThreshold); err == nil && low {
		go func() {
			if err := s.RequestEscrowRefresh(context.Background(), accountID); err != nil {
				s.log.Warn("escrow refresh failed",
					"account", accountID,
					"device", s.deviceID,
					"err", err)
			}
		}()
	}

	metrics.ObserveSpend("ok", time.Since(start).Seconds())
	s.emit(NewSpendEvent(tx))
	s.log.Debug("local spend authorised",
		"account", accountID,
		"tx", tx.ID,
		"amount", amount)
	return tx.ID, nil
}

// undoSpend returns escrow taken by a spend whose transaction could not be
// recorded.
func (s *Scheduler) undoSpend(accountID string, amount int64) {
	if err := s.escrows.Refund(accountID, s.deviceID, amount); err != nil {
		s.log.Warn("escrow refund after failed spend", "account", accountID, "err", err)
	}
}

// RequestEscrowRefresh asks the committee for a fresh grant at the account's
// reputation tier and installs it into both the escrow cache and the account
// document.
func (s *Scheduler) RequestEscrowRefresh(ctx context.Context, accountID string) error {
	metrics := observability.Credit()

	handle, err := s.accounts.Load(accountID)
	if err != nil {
		metrics.IncRefresh("error")
		return err
	}
	snapshot, err := handle.Snapshot()
	if err != nil {
		metrics.IncRefresh("error")
		return err
	}
	tier := snapshot.ReputationTier

	escrow, err := s.committee.GrantEscrow(ctx, snapshot, s.deviceID, tier)
	if err != nil {
		metrics.IncRefresh("rejected")
		return err
	}
	if escrow.Allocated > EscrowLimit(tier) {
		metrics.IncRefresh("rejected")
		return &InvalidOperationError{Reason: "grant exceeds tier escrow limit"}
	}

	s.escrows.Set(accountID, s.deviceID, escrow)
	if err := handle.Update(func(account *CreditAccount) error {
		account.SetEscrow(s.deviceID, escrow.Clone())
		return nil
	}); err != nil {
		metrics.IncRefresh("error")
		return err
	}

	metrics.IncRefresh("ok")
	s.emit(NewEscrowGrantedEvent(accountID, escrow))
	s.log.Info("escrow grant installed",
		"account", accountID,
		"device", s.deviceID,
		"allocated", escrow.Allocated)
	return nil
}

// DetectOverdrafts reads the account's confirmed balance and pending debits
// and reports any overdraft. Read-only; safe to call at any time.
func (s *Scheduler) DetectOverdrafts(ctx context.Context, accountID string) ([]Overdraft, error) {
	handle, err := s.accounts.Load(accountID)
	if err != nil {
		return nil, err
	}
	var (
		balance int64
		debits  []PendingDebit
	)
	if err := handle.Read(func(account *CreditAccount) error {
		balance = account.ConfirmedBalance
		debits = account.PendingDebitRecords()
		return nil
	}); err != nil {
		return nil, err
	}
	return DetectOverdrafts(balance, debits, s.nowFn()), nil
}

// ResolveOverdraft validates the resolution and applies it: Reverse cancels
// the transaction and refunds its escrow to this device, Defer marks it
// disputed, Approve and Split record intent only since extending or
// partitioning credit needs a committee vote.
func (s *Scheduler) ResolveOverdraft(ctx context.Context, accountID string, overdraft Overdraft, resolution Resolution) error {
	if err := ValidateResolution(overdraft, resolution); err != nil {
		return err
	}

	handle, err := s.accounts.Load(accountID)
	if err != nil {
		return err
	}

	switch resolution.Kind {
	case ResolutionReverse:
		if err := handle.Update(func(account *CreditAccount) error {
			tx := account.Transaction(overdraft.TransactionID)
			if tx == nil {
				return ErrTransactionNotFound
			}
			if err := tx.Transition(StatusReversed); err != nil {
				return err
			}
			if escrow := account.Escrow(s.deviceID); escrow != nil {
				escrow.Refund(overdraft.Amount)
			}
			return nil
		}); err != nil {
			return err
		}
		// Mirror the refund into the live escrow cache.
		if err := s.escrows.Refund(accountID, s.deviceID, overdraft.Amount); err != nil {
			s.log.Warn("escrow cache refund skipped", "account", accountID, "err", err)
		}
	case ResolutionDefer:
		if err := handle.Update(func(account *CreditAccount) error {
			tx := account.Transaction(overdraft.TransactionID)
			if tx == nil {
				return ErrTransactionNotFound
			}
			return tx.Transition(StatusDisputed)
		}); err != nil {
			return err
		}
	case ResolutionApprove:
		s.log.Info("overdraft approved pending credit extension vote",
			"account", accountID,
			"transaction", overdraft.TransactionID,
			"deficit", overdraft.Deficit)
	case ResolutionSplit:
		s.log.Info("overdraft split between parties",
			"account", accountID,
			"transaction", overdraft.TransactionID,
			"senderPays", resolution.SenderPays,
			"receiverPays", resolution.ReceiverPays)
	}

	observability.Credit().IncResolution(resolution.Kind.String())
	s.emit(NewOverdraftResolvedEvent(accountID, overdraft, resolution))
	return nil
}

// ReconcileAccount runs one committee reconciliation round. On consensus the
// confirmed balance is replaced, pending credits fold into it, unreconciled
// debits not flagged as overdrafts move to Confirmed, and each reported
// overdraft is fed through SuggestResolution and applied. Without consensus
// no state changes and the caller gets ConsensusFailureError; a context error
// from the committee surfaces unchanged.
func (s *Scheduler) ReconcileAccount(ctx context.Context, accountID string) error {
	metrics := observability.Credit()

	handle, err := s.accounts.Load(accountID)
	if err != nil {
		metrics.IncReconciliation("error")
		return err
	}
	snapshot, err := handle.Snapshot()
	if err != nil {
		metrics.IncReconciliation("error")
		return err
	}

	result, err := s.committee.ReconcileBalance(ctx, snapshot)
	if err != nil {
		metrics.IncReconciliation("error")
		return err
	}
	if !result.Consensus {
		metrics.IncReconciliation("no_consensus")
		return &ConsensusFailureError{
			VotesReceived:  result.VotesReceived,
			QuorumRequired: result.QuorumRequired,
		}
	}

	flagged := make(map[string]bool, len(result.Overdrafts))
	for _, overdraft := range result.Overdrafts {
		flagged[overdraft.TransactionID] = true
	}

	if err := handle.Update(func(account *CreditAccount) error {
		account.ConfirmedBalance = result.NewConfirmedBalance
		account.PendingCredits = 0
		account.LastReconciliation = s.nowFn()
		for _, tx := range account.Transactions {
			if tx.Unreconciled() && !flagged[tx.ID] {
				if err := tx.Transition(StatusConfirmed); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		metrics.IncReconciliation("error")
		return err
	}

	metrics.AddOverdrafts(len(result.Overdrafts))
	for _, overdraft := range result.Overdrafts {
		resolution := SuggestResolution(overdraft, result.NewConfirmedBalance)
		if err := s.ResolveOverdraft(ctx, accountID, overdraft, resolution); err != nil {
			metrics.IncReconciliation("error")
			return err
		}
	}

	metrics.IncReconciliation("ok")
	s.emit(NewReconciledEvent(accountID, result))
	s.log.Info("reconciliation applied",
		"account", accountID,
		"balance", result.NewConfirmedBalance,
		"overdrafts", len(result.Overdrafts))
	return nil
}

// Balance returns the account's confirmed balance.
func (s *Scheduler) Balance(ctx context.Context, accountID string) (int64, error) {
	handle, err := s.accounts.Load(accountID)
	if err != nil {
		return 0, err
	}
	var balance int64
	err = handle.Read(func(account *CreditAccount) error {
		balance = account.ConfirmedBalance
		return nil
	})
	return balance, err
}

// DeviceEscrow returns this device's cached escrow for the account.
func (s *Scheduler) DeviceEscrow(accountID string) (*DeviceEscrow, error) {
	return s.escrows.Get(accountID, s.deviceID)
}

// SetDeviceEscrow installs an escrow for this device, bypassing the
// committee. Intended for hosts seeding state and for tests.
func (s *Scheduler) SetDeviceEscrow(accountID string, escrow *DeviceEscrow) {
	s.escrows.Set(accountID, s.deviceID, escrow)
}
