package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when the account document store has no
	// record for the requested owner.
	ErrAccountNotFound = errors.New("credit: account not found")

	// ErrTransactionNotFound is returned when a referenced transaction is not
	// present in the account's transaction log.
	ErrTransactionNotFound = errors.New("credit: transaction not found")

	// ErrInsufficientBalanceForEscrow is returned by the committee when the
	// confirmed balance net of live grants cannot cover any new escrow.
	ErrInsufficientBalanceForEscrow = errors.New("credit: insufficient balance for escrow allocation")

	// ErrGrantRejected is returned when an escrow grant fails to reach quorum.
	ErrGrantRejected = errors.New("credit: escrow grant failed to reach quorum")
)

// NoEscrowAllocatedError reports that no escrow exists for the given
// account/device pair. It is an expected, recoverable condition: the caller
// should request a grant rather than retry.
type NoEscrowAllocatedError struct {
	AccountID string
	DeviceID  string
}

func (e *NoEscrowAllocatedError) Error() string {
	return fmt.Sprintf("credit: no escrow allocated for account %s, device %s", e.AccountID, e.DeviceID)
}

// InsufficientEscrowError reports a spend attempt that exceeds the device's
// remaining escrow.
type InsufficientEscrowError struct {
	Available int64
	Requested int64
}

func (e *InsufficientEscrowError) Error() string {
	return fmt.Sprintf("credit: insufficient escrow: available %d, requested %d", e.Available, e.Requested)
}

// EscrowExpiredError reports a spend against an escrow past its expiry. The
// escrow is inert; the device must request a fresh grant.
type EscrowExpiredError struct {
	ExpiredAt int64
}

func (e *EscrowExpiredError) Error() string {
	return fmt.Sprintf("credit: escrow expired at %d", e.ExpiredAt)
}

// InvalidStatusTransitionError reports an attempted transaction status
// transition outside the legal state machine. The transaction is unchanged.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("credit: invalid status transition: %s -> %s", e.From, e.To)
}

// InvalidOperationError reports a structurally invalid request, such as an
// overdraft resolution inconsistent with the overdraft it targets.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return "credit: invalid operation: " + e.Reason
}

// InvalidTierError reports a reputation tier outside the supported range.
type InvalidTierError struct {
	Tier uint8
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("credit: invalid reputation tier: %d (must be %d-%d)", e.Tier, TierMin, TierMax)
}

// ConsensusFailureError reports a reconciliation round that did not reach
// quorum. It is distinct from a context timeout: the committee answered, and
// the answer was no.
type ConsensusFailureError struct {
	VotesReceived  int
	QuorumRequired int
}

func (e *ConsensusFailureError) Error() string {
	return fmt.Sprintf("credit: consensus failed: %d/%d votes", e.VotesReceived, e.QuorumRequired)
}
