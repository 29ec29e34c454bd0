package credit

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"creditmesh/storage"
)

// CreditAccount is the persisted per-account document: the confirmed balance,
// the transaction log in causal (insertion) order, and the live escrow grants
// keyed by device. All mutation goes through AccountHandle.Update, which the
// store serialises per account.
type CreditAccount struct {
	Owner              string                   `json:"owner"`
	ConfirmedBalance   int64                    `json:"confirmedBalance"`
	PendingCredits     int64                    `json:"pendingCredits"`
	ReputationTier     Tier                     `json:"reputationTier"`
	Transactions       []*Transaction           `json:"transactions"`
	Escrows            map[string]*DeviceEscrow `json:"escrows"`
	LastReconciliation int64                    `json:"lastReconciliation"`
}

// NewCreditAccount creates an account with the given confirmed balance at the
// lowest reputation tier.
func NewCreditAccount(owner string, initialBalance int64, now int64) *CreditAccount {
	return &CreditAccount{
		Owner:              owner,
		ConfirmedBalance:   initialBalance,
		ReputationTier:     Tier(TierMin),
		Transactions:       []*Transaction{},
		Escrows:            make(map[string]*DeviceEscrow),
		LastReconciliation: now,
	}
}

// Clone returns a deep copy of the account.
func (a *CreditAccount) Clone() *CreditAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Transactions = make([]*Transaction, len(a.Transactions))
	for i, tx := range a.Transactions {
		clone.Transactions[i] = tx.Clone()
	}
	clone.Escrows = make(map[string]*DeviceEscrow, len(a.Escrows))
	for deviceID, escrow := range a.Escrows {
		clone.Escrows[deviceID] = escrow.Clone()
	}
	return &clone
}

// AddTransaction appends to the transaction log.
func (a *CreditAccount) AddTransaction(tx *Transaction) {
	a.Transactions = append(a.Transactions, tx)
}

// Transaction returns the logged transaction with the given ID, or nil.
func (a *CreditAccount) Transaction(txID string) *Transaction {
	for _, tx := range a.Transactions {
		if tx.ID == txID {
			return tx
		}
	}
	return nil
}

// PendingDebits returns the unreconciled outgoing transactions in insertion
// order.
func (a *CreditAccount) PendingDebits() []*Transaction {
	var out []*Transaction
	for _, tx := range a.Transactions {
		if tx.IsFrom(a.Owner) && tx.Unreconciled() {
			out = append(out, tx)
		}
	}
	return out
}

// PendingCreditTxs returns the unreconciled incoming transactions.
func (a *CreditAccount) PendingCreditTxs() []*Transaction {
	var out []*Transaction
	for _, tx := range a.Transactions {
		if tx.IsTo(a.Owner) && tx.Unreconciled() {
			out = append(out, tx)
		}
	}
	return out
}

// TotalPendingCredits sums the unreconciled incoming amounts.
func (a *CreditAccount) TotalPendingCredits() int64 {
	var total int64
	for _, tx := range a.PendingCreditTxs() {
		total += tx.Amount
	}
	return total
}

// TotalPendingDebits sums the unreconciled outgoing amounts.
func (a *CreditAccount) TotalPendingDebits() int64 {
	var total int64
	for _, tx := range a.PendingDebits() {
		total += tx.Amount
	}
	return total
}

// PendingDebitRecords converts the pending debit log into detection input.
func (a *CreditAccount) PendingDebitRecords() []PendingDebit {
	debits := a.PendingDebits()
	out := make([]PendingDebit, len(debits))
	for i, tx := range debits {
		out[i] = PendingDebit{TransactionID: tx.ID, Amount: tx.Amount, Timestamp: tx.Timestamp}
	}
	return out
}

// Escrow returns the live grant for the device, or nil.
func (a *CreditAccount) Escrow(deviceID string) *DeviceEscrow {
	return a.Escrows[deviceID]
}

// SetEscrow installs (or replaces) the device's grant.
func (a *CreditAccount) SetEscrow(deviceID string, escrow *DeviceEscrow) {
	if a.Escrows == nil {
		a.Escrows = make(map[string]*DeviceEscrow)
	}
	a.Escrows[deviceID] = escrow
}

// RemoveEscrow drops the device's grant, returning it if present.
func (a *CreditAccount) RemoveEscrow(deviceID string) *DeviceEscrow {
	escrow := a.Escrows[deviceID]
	delete(a.Escrows, deviceID)
	return escrow
}

// TotalEscrowAllocated sums the allocations across all devices.
func (a *CreditAccount) TotalEscrowAllocated() int64 {
	var total int64
	for _, escrow := range a.Escrows {
		total += escrow.Allocated
	}
	return total
}

// TotalEscrowRemaining sums the remaining amounts across all devices.
func (a *CreditAccount) TotalEscrowRemaining() int64 {
	var total int64
	for _, escrow := range a.Escrows {
		total += escrow.Remaining
	}
	return total
}

// CanAllocateEscrow reports whether the confirmed balance net of live grants
// covers a new allocation of amount.
func (a *CreditAccount) CanAllocateEscrow(amount int64) bool {
	return a.ConfirmedBalance-a.TotalEscrowAllocated() >= amount
}

// UpgradeReputation raises the tier by one.
func (a *CreditAccount) UpgradeReputation() error {
	next, err := a.ReputationTier.Upgrade()
	if err != nil {
		return err
	}
	a.ReputationTier = next
	return nil
}

// DowngradeReputation lowers the tier by one.
func (a *CreditAccount) DowngradeReputation() error {
	next, err := a.ReputationTier.Downgrade()
	if err != nil {
		return err
	}
	a.ReputationTier = next
	return nil
}

const accountKeyPrefix = "credit/account/"

func accountKey(owner string) []byte {
	return []byte(accountKeyPrefix + owner)
}

// AccountStore persists credit accounts as JSON documents in a key-value
// database and hands out per-account handles. Each account is guarded by its
// own mutex so updates are atomic and isolated per account while independent
// accounts proceed fully in parallel.
type AccountStore struct {
	db storage.Database

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]*CreditAccount

	nowFn func() int64
}

// NewAccountStore wraps the database in an account document store.
func NewAccountStore(db storage.Database) *AccountStore {
	return &AccountStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]*CreditAccount),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for account creation timestamps.
func (s *AccountStore) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

func (s *AccountStore) lockFor(owner string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[owner]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[owner] = lock
	}
	return lock
}

// Create persists a new account document and returns its handle.
func (s *AccountStore) Create(owner string, initialBalance int64) (*AccountHandle, error) {
	lock := s.lockFor(owner)
	lock.Lock()
	defer lock.Unlock()

	account := NewCreditAccount(owner, initialBalance, s.nowFn())
	if err := s.persist(account); err != nil {
		return nil, err
	}
	return &AccountHandle{store: s, owner: owner, lock: lock}, nil
}

// Load returns a handle for an existing account, or ErrAccountNotFound.
func (s *AccountStore) Load(owner string) (*AccountHandle, error) {
	ok, err := s.db.Has(accountKey(owner))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &AccountHandle{store: s, owner: owner, lock: s.lockFor(owner)}, nil
}

// persist writes the account document. Caller holds the account lock.
func (s *AccountStore) persist(account *CreditAccount) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	if err := s.db.Put(accountKey(account.Owner), raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[account.Owner] = account.Clone()
	s.mu.Unlock()
	return nil
}

// fetch returns the cached document or reads it from the database. Caller
// holds the account lock.
func (s *AccountStore) fetch(owner string) (*CreditAccount, error) {
	s.mu.Lock()
	cached := s.cache[owner]
	s.mu.Unlock()
	if cached != nil {
		return cached.Clone(), nil
	}

	raw, err := s.db.Get(accountKey(owner))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	account := &CreditAccount{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[owner] = account.Clone()
	s.mu.Unlock()
	return account, nil
}

// AccountHandle applies read-only or mutating closures against one account
// document with per-account serialisation.
type AccountHandle struct {
	store *AccountStore
	owner string
	lock  *sync.Mutex
}

// Owner returns the account the handle is bound to.
func (h *AccountHandle) Owner() string { return h.owner }

// Read applies f to a snapshot of the account. Mutations to the snapshot are
// discarded.
func (h *AccountHandle) Read(f func(*CreditAccount) error) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	account, err := h.store.fetch(h.owner)
	if err != nil {
		return err
	}
	return f(account)
}

// Snapshot returns a copy of the current account document.
func (h *AccountHandle) Snapshot() (*CreditAccount, error) {
	var snapshot *CreditAccount
	err := h.Read(func(account *CreditAccount) error {
		snapshot = account
		return nil
	})
	return snapshot, err
}

// Update applies f to the account and persists the result. If f returns an
// error nothing is written. The mutation is atomic and isolated per account.
func (h *AccountHandle) Update(f func(*CreditAccount) error) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	account, err := h.store.fetch(h.owner)
	if err != nil {
		return err
	}
	if err := f(account); err != nil {
		return err
	}
	return h.store.persist(account)
}

// InvalidateCache forces the next read to reflect the latest persisted state.
// Used after out-of-band writes to the underlying database.
func (h *AccountHandle) InvalidateCache() {
	h.store.mu.Lock()
	delete(h.store.cache, h.owner)
	h.store.mu.Unlock()
}
