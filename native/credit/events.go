package credit

import "strconv"

const (
	EventTypeSpend             = "credit.spend"
	EventTypeEscrowGranted     = "credit.escrow_granted"
	EventTypeReconciled        = "credit.reconciled"
	EventTypeOverdraftResolved = "credit.overdraft_resolved"
)

// Event is the canonical payload emitted for ledger state changes. It
// satisfies the core events.Event interface.
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType implements events.Event.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// NewSpendEvent returns the payload for a locally authorised spend.
func NewSpendEvent(tx *Transaction) *Event {
	return &Event{
		Type: EventTypeSpend,
		Attributes: map[string]string{
			"id":     tx.ID,
			"from":   tx.From,
			"to":     tx.To,
			"amount": strconv.FormatInt(tx.Amount, 10),
			"status": tx.Status.String(),
		},
	}
}

// NewEscrowGrantedEvent returns the payload for an installed escrow grant.
func NewEscrowGrantedEvent(accountID string, escrow *DeviceEscrow) *Event {
	return &Event{
		Type: EventTypeEscrowGranted,
		Attributes: map[string]string{
			"account":   accountID,
			"device":    escrow.DeviceID,
			"allocated": strconv.FormatInt(escrow.Allocated, 10),
			"expiresAt": strconv.FormatInt(escrow.ExpiresAt, 10),
		},
	}
}

// NewReconciledEvent returns the payload for a completed reconciliation.
func NewReconciledEvent(accountID string, result *ReconciliationResult) *Event {
	return &Event{
		Type: EventTypeReconciled,
		Attributes: map[string]string{
			"account":    accountID,
			"balance":    strconv.FormatInt(result.NewConfirmedBalance, 10),
			"votes":      strconv.Itoa(result.VotesReceived),
			"quorum":     strconv.Itoa(result.QuorumRequired),
			"overdrafts": strconv.Itoa(len(result.Overdrafts)),
		},
	}
}

// NewOverdraftResolvedEvent returns the payload for an applied resolution.
func NewOverdraftResolvedEvent(accountID string, overdraft Overdraft, resolution Resolution) *Event {
	return &Event{
		Type: EventTypeOverdraftResolved,
		Attributes: map[string]string{
			"account":     accountID,
			"transaction": overdraft.TransactionID,
			"deficit":     strconv.FormatInt(overdraft.Deficit, 10),
			"strategy":    resolution.Kind.String(),
		},
	}
}
