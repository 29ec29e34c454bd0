package credit

// Overdraft is a derived record: the point at which an account's cumulative
// pending debits exceeded its confirmed balance. It is recomputed on every
// detection pass and carries no independent identity.
type Overdraft struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Deficit       int64  `json:"deficit"`
	DetectedAt    int64  `json:"detectedAt"`
}

// PendingDebit is the detection input projected from a pending debit
// transaction.
type PendingDebit struct {
	TransactionID string
	Amount        int64
	Timestamp     int64
}

// ResolutionKind enumerates the overdraft resolution strategies.
type ResolutionKind uint8

const (
	// ResolutionReverse cancels the offending transaction and refunds its
	// escrow.
	ResolutionReverse ResolutionKind = iota
	// ResolutionApprove extends credit to cover the deficit. Requires a
	// follow-up committee vote; never auto-applied without one.
	ResolutionApprove
	// ResolutionSplit partitions the deficit between sender and receiver.
	ResolutionSplit
	// ResolutionDefer marks the transaction disputed for manual resolution.
	ResolutionDefer
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionReverse:
		return "reverse"
	case ResolutionApprove:
		return "approve"
	case ResolutionSplit:
		return "split"
	case ResolutionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Resolution is a strategy for repairing one overdraft. SenderPays and
// ReceiverPays are meaningful only for ResolutionSplit.
type Resolution struct {
	Kind         ResolutionKind `json:"kind"`
	SenderPays   int64          `json:"senderPays,omitempty"`
	ReceiverPays int64          `json:"receiverPays,omitempty"`
}

// ResolveReverse builds a reversal resolution.
func ResolveReverse() Resolution { return Resolution{Kind: ResolutionReverse} }

// ResolveApprove builds an approval resolution.
func ResolveApprove() Resolution { return Resolution{Kind: ResolutionApprove} }

// ResolveSplit builds a split resolution partitioning the deficit.
func ResolveSplit(senderPays, receiverPays int64) Resolution {
	return Resolution{Kind: ResolutionSplit, SenderPays: senderPays, ReceiverPays: receiverPays}
}

// ResolveDefer builds a deferral resolution.
func ResolveDefer() Resolution { return Resolution{Kind: ResolutionDefer} }

// DetectOverdrafts walks the pending debits in causal order, accumulating a
// running total, and reports at most one overdraft per pass: the transaction
// whose cumulative total first exceeds the confirmed balance, with the
// deficit measured at that transaction. The deficit is a property of the
// account's aggregate state, not of an individual transfer, so later debits
// past the first breach are not separately reported.
func DetectOverdrafts(confirmedBalance int64, debits []PendingDebit, now int64) []Overdraft {
	var running int64
	for _, debit := range debits {
		running += debit.Amount
		if running > confirmedBalance {
			return []Overdraft{{
				TransactionID: debit.TransactionID,
				Amount:        debit.Amount,
				Deficit:       running - confirmedBalance,
				DetectedAt:    now,
			}}
		}
	}
	return nil
}

// SuggestResolution picks a strategy from the deficit's severity relative to
// the reconciled balance: under 10% the deficit is worth extending credit
// for, under 50% it is split evenly, and anything larger is reversed. A
// non-positive balance always reverses.
func SuggestResolution(overdraft Overdraft, newConfirmedBalance int64) Resolution {
	if newConfirmedBalance <= 0 {
		return ResolveReverse()
	}
	ratio := float64(overdraft.Deficit) / float64(newConfirmedBalance)
	switch {
	case ratio < 0.1:
		return ResolveApprove()
	case ratio < 0.5:
		half := overdraft.Deficit / 2
		return ResolveSplit(half, overdraft.Deficit-half)
	default:
		return ResolveReverse()
	}
}

// ValidateResolution rejects resolutions structurally inconsistent with the
// overdraft they target.
func ValidateResolution(overdraft Overdraft, resolution Resolution) error {
	switch resolution.Kind {
	case ResolutionReverse, ResolutionApprove, ResolutionDefer:
		return nil
	case ResolutionSplit:
		if resolution.SenderPays < 0 || resolution.ReceiverPays < 0 {
			return &InvalidOperationError{Reason: "split amounts cannot be negative"}
		}
		if resolution.SenderPays+resolution.ReceiverPays != overdraft.Deficit {
			return &InvalidOperationError{Reason: "split resolution does not sum to deficit"}
		}
		return nil
	default:
		return &InvalidOperationError{Reason: "unknown resolution kind"}
	}
}

// TotalDeficit sums the deficits of the given overdrafts.
func TotalDeficit(overdrafts []Overdraft) int64 {
	var total int64
	for _, overdraft := range overdrafts {
		total += overdraft.Deficit
	}
	return total
}

// MostSevere returns the overdraft with the highest deficit.
func MostSevere(overdrafts []Overdraft) (Overdraft, bool) {
	if len(overdrafts) == 0 {
		return Overdraft{}, false
	}
	worst := overdrafts[0]
	for _, overdraft := range overdrafts[1:] {
		if overdraft.Deficit > worst.Deficit {
			worst = overdraft
		}
	}
	return worst, true
}

// RecoveryAmount returns the amount a resolution recovers immediately. Only a
// split recovers funds up front; the other strategies reverse, extend credit,
// or wait.
func RecoveryAmount(resolution Resolution) int64 {
	if resolution.Kind == ResolutionSplit {
		return resolution.SenderPays + resolution.ReceiverPays
	}
	return 0
}
