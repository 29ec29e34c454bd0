package credit

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction. The happy path is
// Pending -> InEscrow -> Confirmed -> Completed; Reversed, Disputed, Failed
// and Cancelled are alternative exits. Only forward transitions are legal.
type Status uint8

const (
	// StatusPending: created, not yet checked against escrow.
	StatusPending Status = iota
	// StatusInEscrow: escrow locally decremented, provisionally valid
	// pending committee confirmation.
	StatusInEscrow
	// StatusConfirmed: included in a reconciled balance and not flagged as
	// an overdraft.
	StatusConfirmed
	// StatusCompleted: counterparty acknowledged receipt.
	StatusCompleted
	// StatusReversed: cancelled by an overdraft resolution; escrow refunded.
	StatusReversed
	// StatusDisputed: deferred for manual resolution; no automatic refund.
	StatusDisputed
	// StatusFailed: terminal local validation failure.
	StatusFailed
	// StatusCancelled: terminal local cancellation.
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusInEscrow:  "in_escrow",
	StatusConfirmed: "confirmed",
	StatusCompleted: "completed",
	StatusReversed:  "reversed",
	StatusDisputed:  "disputed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusReversed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving to next is a legal forward
// transition. Self-transitions are illegal; so is anything out of a terminal
// state (in particular Completed -> Reversed).
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || s == next {
		return false
	}
	switch s {
	case StatusPending:
		switch next {
		case StatusInEscrow, StatusConfirmed, StatusReversed, StatusDisputed, StatusFailed, StatusCancelled:
			return true
		}
	case StatusInEscrow:
		switch next {
		case StatusConfirmed, StatusReversed, StatusDisputed, StatusFailed, StatusCancelled:
			return true
		}
	case StatusConfirmed:
		switch next {
		case StatusCompleted, StatusReversed, StatusDisputed:
			return true
		}
	case StatusDisputed:
		switch next {
		case StatusConfirmed, StatusReversed:
			return true
		}
	}
	return false
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("credit: unknown transaction status %q", s)
}

// MarshalJSON encodes the status by name so persisted documents stay readable.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Metadata carries descriptive fields attached to a transaction.
type Metadata struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	InvoiceID   string `json:"invoiceId,omitempty"`
}

// Transaction is an immutable record of an attempted value transfer. Only the
// Status field mutates, and only through Transition.
type Transaction struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Amount    int64    `json:"amount"`
	Timestamp int64    `json:"timestamp"`
	Status    Status   `json:"status"`
	Metadata  Metadata `json:"metadata"`
}

// NewTransaction creates a pending transaction with a fresh UUID.
func NewTransaction(from, to string, amount int64, metadata Metadata, now int64) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: now,
		Status:    StatusPending,
		Metadata:  metadata,
	}
}

// Clone returns a copy callers can mutate without affecting the original.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Transition moves the transaction to next, or fails with
// InvalidStatusTransitionError committing no change.
func (t *Transaction) Transition(next Status) error {
	if !t.Status.CanTransitionTo(next) {
		return &InvalidStatusTransitionError{From: t.Status, To: next}
	}
	t.Status = next
	return nil
}

// IsFrom reports whether the transaction debits the given account.
func (t *Transaction) IsFrom(accountID string) bool { return t.From == accountID }

// IsTo reports whether the transaction credits the given account.
func (t *Transaction) IsTo(accountID string) bool { return t.To == accountID }

// Unreconciled reports whether the transaction still awaits committee
// confirmation (Pending or InEscrow).
func (t *Transaction) Unreconciled() bool {
	return t.Status == StatusPending || t.Status == StatusInEscrow
}
