// Package committee implements the BFT committee contract the credit
// scheduler consumes: escrow grants and balance reconciliation ratified by a
// quorum of 2f+1 members out of n = 3f+1. The Local implementation simulates
// vote collection in process; a networked committee would replace only the
// collection step, not the quorum arithmetic or the grant bounds.
package committee

import (
	"context"
	"fmt"
	"sync"
	"time"

	"creditmesh/native/credit"
)

// MinMembers is the smallest committee able to tolerate a single Byzantine
// fault (3f+1 with f=1).
const MinMembers = 4

var _ credit.Committee = (*Local)(nil)

// Vote is one member's ratification of a proposed balance.
type Vote struct {
	Voter           string `json:"voter"`
	ProposedBalance int64  `json:"proposedBalance"`
	Timestamp       int64  `json:"timestamp"`
}

// Local is an in-process committee. Vote collection is simulated over the
// member list; the number of responsive members is overridable so callers can
// exercise quorum failures.
type Local struct {
	members []string
	quorum  int

	mu     sync.RWMutex
	votes  map[string][]Vote
	voting int

	nowFn func() int64
}

// NewLocal builds a committee from the member list. At least MinMembers are
// required; quorum is 2f+1 where f = (n-1)/3.
func NewLocal(members []string) (*Local, error) {
	if len(members) < MinMembers {
		return nil, fmt.Errorf("committee: requires at least %d members (3f+1 with f=1), got %d", MinMembers, len(members))
	}
	f := (len(members) - 1) / 3
	return &Local{
		members: append([]string(nil), members...),
		quorum:  2*f + 1,
		votes:   make(map[string][]Vote),
		voting:  -1,
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// Size returns the number of committee members.
func (l *Local) Size() int { return len(l.members) }

// Quorum returns the number of votes required for a decision.
func (l *Local) Quorum() int { return l.quorum }

// MaxByzantineFaults returns f, the number of arbitrarily faulty members the
// committee tolerates.
func (l *Local) MaxByzantineFaults() int { return (len(l.members) - 1) / 3 }

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
func (l *Local) SetNowFunc(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetVotingMembers caps how many members answer a voting round. Pass a
// negative value to restore the default honest supermajority. Used by tests
// to force consensus failures.
func (l *Local) SetVotingMembers(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.voting = n
}

// votingMembers returns how many members answer a round. The default models
// an honest supermajority: at least two thirds of the committee.
func (l *Local) votingMembers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.voting >= 0 {
		if l.voting > len(l.members) {
			return len(l.members)
		}
		return l.voting
	}
	return (len(l.members) + 1) * 2 / 3
}

// collectVotes simulates one voting round and retains the ballots for audit.
func (l *Local) collectVotes(accountID string, proposedBalance int64) []Vote {
	count := l.votingMembers()
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	votes := make([]Vote, 0, count)
	for i := 0; i < count; i++ {
		votes = append(votes, Vote{
			Voter:           l.members[i],
			ProposedBalance: proposedBalance,
			Timestamp:       now,
		})
	}
	l.votes[accountID] = votes
	return votes
}

// GrantEscrow sizes a grant for the device at the account's tier: the tier's
// escrow limit, capped by the confirmed balance net of the account's other
// live grants so the aggregate allocation never exceeds the confirmed
// balance. The grant is put to a vote before it is issued.
func (l *Local) GrantEscrow(ctx context.Context, account *credit.CreditAccount, deviceID string, tier credit.Tier) (*credit.DeviceEscrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocated := account.TotalEscrowAllocated()
	if existing := account.Escrow(deviceID); existing != nil {
		// A refresh replaces this device's grant, so it does not count
		// against the available balance.
		allocated -= existing.Allocated
	}
	available := account.ConfirmedBalance - allocated
	amount := credit.EscrowLimit(tier)
	if available < amount {
		amount = available
	}
	if amount <= 0 {
		return nil, credit.ErrInsufficientBalanceForEscrow
	}

	votes := l.collectVotes(account.Owner, amount)
	if len(votes) < l.quorum {
		return nil, credit.ErrGrantRejected
	}

	validity := credit.EscrowDurationDays(tier)
	return credit.NewDeviceEscrow(deviceID, amount, validity, l.now()), nil
}

// ReconcileBalance proposes confirmed + pending credits - pending debits as
// the new balance and puts it to a vote. On consensus the result carries the
// new balance plus any overdraft detected against the pre-reconciliation
// confirmed balance; without consensus the balance is unchanged and no
// overdraft is reported.
func (l *Local) ReconcileBalance(ctx context.Context, account *credit.CreditAccount) (*credit.ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	debits := account.PendingDebitRecords()
	proposed := account.ConfirmedBalance + account.PendingCredits - account.TotalPendingDebits()

	votes := l.collectVotes(account.Owner, proposed)
	consensus := len(votes) >= l.quorum

	result := &credit.ReconciliationResult{
		Consensus:           consensus,
		VotesReceived:       len(votes),
		QuorumRequired:      l.quorum,
		NewConfirmedBalance: account.ConfirmedBalance,
	}
	if consensus {
		result.NewConfirmedBalance = proposed
		result.Overdrafts = credit.DetectOverdrafts(account.ConfirmedBalance, debits, l.now())
	}
	return result, nil
}

// Votes returns the ballots retained for the account's last round.
func (l *Local) Votes(accountID string) []Vote {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Vote(nil), l.votes[accountID]...)
}

// ClearVotes drops the retained ballots for the account.
func (l *Local) ClearVotes(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.votes, accountID)
}

func (l *Local) now() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nowFn()
}
