package credit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditmesh/consensus/committee"
	"creditmesh/native/credit"
	"creditmesh/storage"
)

var members = []string{"node-a", "node-b", "node-c", "node-d"}

func nowUnix() int64 { return time.Now().Unix() }

func newLedger(t *testing.T) (*credit.Scheduler, *credit.AccountStore, *committee.Local) {
	t.Helper()
	local, err := committee.NewLocal(members)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}
	store := credit.NewAccountStore(storage.NewMemDB())
	return credit.NewScheduler(store, local, "phone-1"), store, local
}

func TestSpendRefreshReconcileLifecycle(t *testing.T) {
	scheduler, store, _ := newLedger(t)
	ctx := context.Background()

	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Tier 2: credit limit 10000, escrow limit 1000.
	if err := handle.Update(func(account *credit.CreditAccount) error {
		account.ReputationTier = credit.Tier(2)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := scheduler.RequestEscrowRefresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	escrow, err := scheduler.DeviceEscrow("alice")
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if escrow.Allocated != 1_000 {
		t.Fatalf("grant must match the tier escrow limit, got %d", escrow.Allocated)
	}

	txID, err := scheduler.SpendLocal(ctx, "alice", 300, "bob", credit.Metadata{Description: "Groceries"})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	escrow, _ = scheduler.DeviceEscrow("alice")
	if escrow.Remaining != 700 {
		t.Fatalf("remaining after spend: %d", escrow.Remaining)
	}

	if err := scheduler.ReconcileAccount(ctx, "alice"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	balance, err := scheduler.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 9_700 {
		t.Fatalf("balance after reconcile: %d", balance)
	}

	if err := handle.Read(func(account *credit.CreditAccount) error {
		tx := account.Transaction(txID)
		if tx == nil || tx.Status != credit.StatusConfirmed {
			t.Fatalf("reconciled debit must be confirmed: %+v", tx)
		}
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestReconcileFoldsPendingCredits(t *testing.T) {
	scheduler, store, _ := newLedger(t)
	ctx := context.Background()

	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := handle.Update(func(account *credit.CreditAccount) error {
		account.ReputationTier = credit.Tier(3)
		account.PendingCredits = 5_000
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := scheduler.RequestEscrowRefresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := scheduler.SpendLocal(ctx, "alice", 2_000, "bob", credit.Metadata{}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	if err := scheduler.ReconcileAccount(ctx, "alice"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	balance, err := scheduler.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 13_000 {
		t.Fatalf("10000 + 5000 credits - 2000 debit, got %d", balance)
	}
	if err := handle.Read(func(account *credit.CreditAccount) error {
		if account.PendingCredits != 0 {
			t.Fatalf("pending credits left after reconcile: %d", account.PendingCredits)
		}
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestReconcileWithoutQuorumLeavesStateAlone(t *testing.T) {
	scheduler, store, local := newLedger(t)
	ctx := context.Background()

	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := handle.Update(func(account *credit.CreditAccount) error {
		account.ReputationTier = credit.Tier(2)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := scheduler.RequestEscrowRefresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	txID, err := scheduler.SpendLocal(ctx, "alice", 400, "bob", credit.Metadata{})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}

	local.SetVotingMembers(2)
	err = scheduler.ReconcileAccount(ctx, "alice")
	var failure *credit.ConsensusFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected ConsensusFailureError, got %v", err)
	}

	balance, _ := scheduler.Balance(ctx, "alice")
	if balance != 10_000 {
		t.Fatalf("balance must not move without quorum: %d", balance)
	}
	if err := handle.Read(func(account *credit.CreditAccount) error {
		tx := account.Transaction(txID)
		if tx == nil || tx.Status != credit.StatusInEscrow {
			t.Fatalf("debit must stay unreconciled without quorum: %+v", tx)
		}
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}

	// Quorum restored: the same round now lands.
	local.SetVotingMembers(-1)
	if err := scheduler.ReconcileAccount(ctx, "alice"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	balance, _ = scheduler.Balance(ctx, "alice")
	if balance != 9_600 {
		t.Fatalf("balance after recovered quorum: %d", balance)
	}
}

func TestReconcileReversesCommitteeFlaggedOverdraft(t *testing.T) {
	scheduler, store, _ := newLedger(t)
	ctx := context.Background()

	handle, err := store.Create("alice", 500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// A stale grant larger than the current balance lets the device overspend.
	scheduler.SetDeviceEscrow("alice", credit.NewDeviceEscrow("phone-1", 2_000, 7, nowUnix()))

	goodID, err := scheduler.SpendLocal(ctx, "alice", 300, "bob", credit.Metadata{})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	badID, err := scheduler.SpendLocal(ctx, "alice", 1_500, "carol", credit.Metadata{})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}

	if err := scheduler.ReconcileAccount(ctx, "alice"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if err := handle.Read(func(account *credit.CreditAccount) error {
		if bad := account.Transaction(badID); bad == nil || bad.Status != credit.StatusReversed {
			t.Fatalf("overdrafted debit must be reversed: %+v", bad)
		}
		if good := account.Transaction(goodID); good == nil || good.Status != credit.StatusConfirmed {
			t.Fatalf("clean debit must be confirmed: %+v", good)
		}
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestGrantsNeverExceedConfirmedBalance(t *testing.T) {
	local, err := committee.NewLocal(members)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}
	ctx := context.Background()

	account := credit.NewCreditAccount("alice", 1_500, nowUnix())
	account.ReputationTier = credit.Tier(2) // escrow limit 1000

	first, err := local.GrantEscrow(ctx, account, "phone-1", account.ReputationTier)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if first.Allocated != 1_000 {
		t.Fatalf("first grant: %d", first.Allocated)
	}
	account.SetEscrow("phone-1", first)

	// Only 500 of balance left to back a second device.
	second, err := local.GrantEscrow(ctx, account, "laptop-1", account.ReputationTier)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if second.Allocated != 500 {
		t.Fatalf("second grant must be capped by remaining balance: %d", second.Allocated)
	}
	account.SetEscrow("laptop-1", second)

	if _, err := local.GrantEscrow(ctx, account, "tablet-1", account.ReputationTier); !errors.Is(err, credit.ErrInsufficientBalanceForEscrow) {
		t.Fatalf("fully collateralised account must not receive more escrow, got %v", err)
	}

	// A refresh for an existing device replaces its grant rather than
	// stacking on top of it.
	refreshed, err := local.GrantEscrow(ctx, account, "phone-1", account.ReputationTier)
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if refreshed.Allocated != 1_000 {
		t.Fatalf("refresh must re-issue the full grant: %d", refreshed.Allocated)
	}
}
