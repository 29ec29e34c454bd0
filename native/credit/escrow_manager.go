package credit

import (
	"sync"
	"time"
)

// EscrowManager is the local cache of device escrows: the single source of
// truth, per device, for how much may be spent right now without contacting
// the network. Check-and-decrement happens inside one critical section, so
// concurrent spends from the same device serialise here instead of racing.
type EscrowManager struct {
	mu      sync.RWMutex
	escrows map[string]*DeviceEscrow
	nowFn   func() int64
}

// NewEscrowManager returns an empty manager using wall-clock time.
func NewEscrowManager() *EscrowManager {
	return &EscrowManager{
		escrows: make(map[string]*DeviceEscrow),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
// Primarily intended for tests to provide deterministic timestamps.
func (m *EscrowManager) SetNowFunc(now func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

func (m *EscrowManager) now() int64 {
	return m.nowFn()
}

func escrowKey(accountID, deviceID string) string {
	return accountID + ":" + deviceID
}

// Get returns a copy of the escrow for the account/device pair, or
// NoEscrowAllocatedError when none exists.
func (m *EscrowManager) Get(accountID, deviceID string) (*DeviceEscrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	escrow, ok := m.escrows[escrowKey(accountID, deviceID)]
	if !ok {
		return nil, &NoEscrowAllocatedError{AccountID: accountID, DeviceID: deviceID}
	}
	return escrow.Clone(), nil
}

// Set installs (or replaces) the cached escrow for the account/device pair.
func (m *EscrowManager) Set(accountID, deviceID string, escrow *DeviceEscrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrows[escrowKey(accountID, deviceID)] = escrow.Clone()
}

// Remove drops the cached escrow for the account/device pair.
func (m *EscrowManager) Remove(accountID, deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.escrows, escrowKey(accountID, deviceID))
}

// Spend atomically checks and decrements the device's remaining escrow.
func (m *EscrowManager) Spend(accountID, deviceID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	escrow, ok := m.escrows[escrowKey(accountID, deviceID)]
	if !ok {
		return &NoEscrowAllocatedError{AccountID: accountID, DeviceID: deviceID}
	}
	return escrow.Spend(amount, m.nowFn())
}

// Refund returns amount to the device's escrow, capped at its allocation.
func (m *EscrowManager) Refund(accountID, deviceID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	escrow, ok := m.escrows[escrowKey(accountID, deviceID)]
	if !ok {
		return &NoEscrowAllocatedError{AccountID: accountID, DeviceID: deviceID}
	}
	escrow.Refund(amount)
	return nil
}

// Low reports whether the device's remaining escrow has dropped to or below
// thresholdPercent of its allocation.
func (m *EscrowManager) Low(accountID, deviceID string, thresholdPercent uint8) (bool, error) {
	escrow, err := m.Get(accountID, deviceID)
	if err != nil {
		return false, err
	}
	return escrow.Low(thresholdPercent), nil
}

// AllForAccount returns copies of every escrow cached for the account.
func (m *EscrowManager) AllForAccount(accountID string) []*DeviceEscrow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := accountID + ":"
	var out []*DeviceEscrow
	for key, escrow := range m.escrows {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, escrow.Clone())
		}
	}
	return out
}

// TotalAllocated sums the allocations of every escrow cached for the account.
func (m *EscrowManager) TotalAllocated(accountID string) int64 {
	var total int64
	for _, escrow := range m.AllForAccount(accountID) {
		total += escrow.Allocated
	}
	return total
}

// TotalRemaining sums the remaining amounts of every escrow cached for the
// account.
func (m *EscrowManager) TotalRemaining(accountID string) int64 {
	var total int64
	for _, escrow := range m.AllForAccount(accountID) {
		total += escrow.Remaining
	}
	return total
}

// CleanupExpired evicts every escrow past its expiry.
func (m *EscrowManager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	for key, escrow := range m.escrows {
		if escrow.Expired(now) {
			delete(m.escrows, key)
		}
	}
}
