package credit

import (
	"errors"
	"testing"

	"creditmesh/storage"
)

func TestCreditAccountNew(t *testing.T) {
	account := NewCreditAccount("alice", 10_000, 1000)
	if account.Owner != "alice" || account.ConfirmedBalance != 10_000 {
		t.Fatalf("unexpected account: %+v", account)
	}
	if account.ReputationTier.Value() != 0 {
		t.Fatalf("new accounts start at tier 0")
	}
}

func TestCreditAccountPendingDebits(t *testing.T) {
	account := NewCreditAccount("alice", 10_000, 1000)
	out := NewTransaction("alice", "bob", 1_000, Metadata{}, 1000)
	in := NewTransaction("bob", "alice", 500, Metadata{}, 1001)
	confirmed := NewTransaction("alice", "carol", 200, Metadata{}, 1002)
	confirmed.Status = StatusConfirmed
	account.AddTransaction(out)
	account.AddTransaction(in)
	account.AddTransaction(confirmed)

	debits := account.PendingDebits()
	if len(debits) != 1 || debits[0].ID != out.ID {
		t.Fatalf("pending debits: %+v", debits)
	}
	if got := account.TotalPendingDebits(); got != 1_000 {
		t.Fatalf("total pending debits: %d", got)
	}
	credits := account.PendingCreditTxs()
	if len(credits) != 1 || credits[0].ID != in.ID {
		t.Fatalf("pending credits: %+v", credits)
	}
	if got := account.TotalPendingCredits(); got != 500 {
		t.Fatalf("total pending credits: %d", got)
	}
	records := account.PendingDebitRecords()
	if len(records) != 1 || records[0].TransactionID != out.ID || records[0].Amount != 1_000 {
		t.Fatalf("debit records: %+v", records)
	}
}

func TestCreditAccountEscrows(t *testing.T) {
	account := NewCreditAccount("alice", 10_000, 1000)
	account.SetEscrow("d1", NewDeviceEscrow("d1", 5_000, 7, 1000))
	account.SetEscrow("d2", NewDeviceEscrow("d2", 3_000, 7, 1000))

	if got := account.TotalEscrowAllocated(); got != 8_000 {
		t.Fatalf("total allocated: %d", got)
	}
	if got := account.TotalEscrowRemaining(); got != 8_000 {
		t.Fatalf("total remaining: %d", got)
	}
	if account.CanAllocateEscrow(5_000) {
		t.Fatalf("only 2000 available, 5000 must be refused")
	}
	if !account.CanAllocateEscrow(2_000) {
		t.Fatalf("2000 should fit")
	}
	if removed := account.RemoveEscrow("d2"); removed == nil || removed.Allocated != 3_000 {
		t.Fatalf("remove escrow: %+v", removed)
	}
	if account.Escrow("d2") != nil {
		t.Fatalf("d2 should be gone")
	}
}

func TestCreditAccountReputation(t *testing.T) {
	account := NewCreditAccount("alice", 10_000, 1000)
	if err := account.UpgradeReputation(); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if account.ReputationTier.Value() != 1 {
		t.Fatalf("tier after upgrade: %d", account.ReputationTier.Value())
	}
	if err := account.DowngradeReputation(); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if err := account.DowngradeReputation(); err == nil {
		t.Fatalf("downgrading tier 0 must fail")
	}
}

func TestCreditAccountClone(t *testing.T) {
	account := NewCreditAccount("alice", 10_000, 1000)
	account.AddTransaction(NewTransaction("alice", "bob", 100, Metadata{}, 1000))
	account.SetEscrow("d1", NewDeviceEscrow("d1", 5_000, 7, 1000))

	clone := account.Clone()
	clone.Transactions[0].Status = StatusFailed
	clone.Escrows["d1"].Remaining = 1

	if account.Transactions[0].Status == StatusFailed {
		t.Fatalf("clone must not share transactions")
	}
	if account.Escrows["d1"].Remaining == 1 {
		t.Fatalf("clone must not share escrows")
	}
}

func TestAccountStoreCreateLoad(t *testing.T) {
	store := NewAccountStore(storage.NewMemDB())
	if _, err := store.Load("alice"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if _, err := store.Create("alice", 10_000); err != nil {
		t.Fatalf("create: %v", err)
	}
	handle, err := store.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var owner string
	if err := handle.Read(func(account *CreditAccount) error {
		owner = account.Owner
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if owner != "alice" {
		t.Fatalf("owner: %q", owner)
	}
}

func TestAccountStoreUpdatePersists(t *testing.T) {
	db := storage.NewMemDB()
	store := NewAccountStore(db)
	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := handle.Update(func(account *CreditAccount) error {
		account.ConfirmedBalance = 15_000
		account.AddTransaction(NewTransaction("alice", "bob", 1_000, Metadata{}, 1000))
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A second store over the same database must see the write.
	other := NewAccountStore(db)
	reloaded, err := other.Load("alice")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	var balance int64
	var txs int
	if err := reloaded.Read(func(account *CreditAccount) error {
		balance = account.ConfirmedBalance
		txs = len(account.Transactions)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if balance != 15_000 || txs != 1 {
		t.Fatalf("persisted state: balance %d, txs %d", balance, txs)
	}
}

func TestAccountStoreUpdateErrorWritesNothing(t *testing.T) {
	store := NewAccountStore(storage.NewMemDB())
	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	if err := handle.Update(func(account *CreditAccount) error {
		account.ConfirmedBalance = 0
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected closure error, got %v", err)
	}

	var balance int64
	if err := handle.Read(func(account *CreditAccount) error {
		balance = account.ConfirmedBalance
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if balance != 10_000 {
		t.Fatalf("failed update must write nothing, balance %d", balance)
	}
}

func TestAccountHandleReadIsSnapshot(t *testing.T) {
	store := NewAccountStore(storage.NewMemDB())
	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := handle.Read(func(account *CreditAccount) error {
		account.ConfirmedBalance = 1
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	var balance int64
	if err := handle.Read(func(account *CreditAccount) error {
		balance = account.ConfirmedBalance
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if balance != 10_000 {
		t.Fatalf("read must hand out snapshots, balance %d", balance)
	}
}

func TestAccountHandleInvalidateCache(t *testing.T) {
	db := storage.NewMemDB()
	store := NewAccountStore(db)
	handle, err := store.Create("alice", 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Warm the cache.
	if _, err := handle.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Out-of-band write through a second store.
	other := NewAccountStore(db)
	otherHandle, err := other.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := otherHandle.Update(func(account *CreditAccount) error {
		account.ConfirmedBalance = 77
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	handle.InvalidateCache()
	snapshot, err := handle.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ConfirmedBalance != 77 {
		t.Fatalf("invalidated read must reflect persisted state, got %d", snapshot.ConfirmedBalance)
	}
}
