package credit

import "fmt"

// Tier is a coarse trust level (0-5) bounding how much credit and escrow an
// account may be granted.
type Tier uint8

const (
	TierMin uint8 = 0
	TierMax uint8 = 5
)

// NewTier validates the raw value and returns it as a Tier.
func NewTier(value uint8) (Tier, error) {
	if value > TierMax {
		return 0, &InvalidTierError{Tier: value}
	}
	return Tier(value), nil
}

// Value returns the raw tier value.
func (t Tier) Value() uint8 { return uint8(t) }

// Name returns the human-readable tier name.
func (t Tier) Name() string {
	switch t {
	case 0:
		return "New User"
	case 1:
		return "Trusted"
	case 2:
		return "Established"
	case 3:
		return "Highly Trusted"
	case 4:
		return "Community Pillar"
	case 5:
		return "Unlimited Trust"
	default:
		return "Unknown"
	}
}

func (t Tier) String() string {
	return fmt.Sprintf("%s (%d)", t.Name(), uint8(t))
}

// CanUpgrade reports whether the tier is below the maximum.
func (t Tier) CanUpgrade() bool { return uint8(t) < TierMax }

// CanDowngrade reports whether the tier is above the minimum.
func (t Tier) CanDowngrade() bool { return uint8(t) > TierMin }

// Upgrade returns the next tier up.
func (t Tier) Upgrade() (Tier, error) {
	if !t.CanUpgrade() {
		return t, &InvalidOperationError{Reason: "already at maximum tier"}
	}
	return t + 1, nil
}

// Downgrade returns the next tier down.
func (t Tier) Downgrade() (Tier, error) {
	if !t.CanDowngrade() {
		return t, &InvalidOperationError{Reason: "already at minimum tier"}
	}
	return t - 1, nil
}

// CreditLimit returns the credit ceiling for the tier in the smallest currency
// unit. The table is strictly increasing: each tier is worth ten times the
// previous one.
func CreditLimit(tier Tier) int64 {
	switch tier {
	case 0:
		return 100
	case 1:
		return 1_000
	case 2:
		return 10_000
	case 3:
		return 100_000
	case 4:
		return 1_000_000
	case 5:
		return 10_000_000
	default:
		return 0
	}
}

// EscrowLimit returns the per-grant escrow ceiling for the tier: 10% of the
// credit limit.
func EscrowLimit(tier Tier) int64 {
	return CreditLimit(tier) / 10
}

// EscrowLowThreshold returns the remaining-escrow percentage at which a device
// of this tier should request a refresh. Lower-trust accounts refresh earlier
// because their grants are smaller and their spend patterns less proven.
func EscrowLowThreshold(tier Tier) uint8 {
	switch tier {
	case 0:
		return 50
	case 1:
		return 40
	case 2:
		return 30
	case 3:
		return 25
	case 4:
		return 20
	case 5:
		return 10
	default:
		return 50
	}
}

// EscrowDurationDays returns the grant validity window for the tier.
func EscrowDurationDays(tier Tier) uint64 {
	switch tier {
	case 0:
		return 1
	case 1:
		return 3
	case 2:
		return 7
	case 3:
		return 14
	case 4:
		return 30
	case 5:
		return 90
	default:
		return 1
	}
}
