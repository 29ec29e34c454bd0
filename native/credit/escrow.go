package credit

// DeviceEscrow is a bounded, time-limited spending allowance granted to a
// single device by the committee. It is consumed locally without network
// round-trips; an expired escrow authorises nothing regardless of Remaining.
type DeviceEscrow struct {
	DeviceID          string `json:"deviceId"`
	Allocated         int64  `json:"allocated"`
	Spent             int64  `json:"spent"`
	Remaining         int64  `json:"remaining"`
	GrantedAt         int64  `json:"grantedAt"`
	ExpiresAt         int64  `json:"expiresAt"`
	GrantValidityDays uint64 `json:"grantValidityDays"`
}

// NewDeviceEscrow creates a fresh escrow granted at the supplied unix
// timestamp and valid for validityDays.
func NewDeviceEscrow(deviceID string, allocated int64, validityDays uint64, now int64) *DeviceEscrow {
	return &DeviceEscrow{
		DeviceID:          deviceID,
		Allocated:         allocated,
		Spent:             0,
		Remaining:         allocated,
		GrantedAt:         now,
		ExpiresAt:         now + int64(validityDays*24*60*60),
		GrantValidityDays: validityDays,
	}
}

// Clone returns a copy callers can mutate without affecting the original.
func (e *DeviceEscrow) Clone() *DeviceEscrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Expired reports whether the escrow is past its expiry at the given time.
func (e *DeviceEscrow) Expired(now int64) bool {
	return now >= e.ExpiresAt
}

// Low reports whether remaining escrow has dropped to or below
// thresholdPercent of the allocation.
func (e *DeviceEscrow) Low(thresholdPercent uint8) bool {
	if e.Allocated == 0 {
		return true
	}
	threshold := (e.Allocated * int64(thresholdPercent)) / 100
	return e.Remaining <= threshold
}

// Spend decrements Remaining by amount. It fails with EscrowExpiredError when
// the escrow is past expiry and InsufficientEscrowError when Remaining cannot
// cover the amount; the escrow is unchanged on failure.
func (e *DeviceEscrow) Spend(amount int64, now int64) error {
	if e.Expired(now) {
		return &EscrowExpiredError{ExpiredAt: e.ExpiresAt}
	}
	if e.Remaining < amount {
		return &InsufficientEscrowError{Available: e.Remaining, Requested: amount}
	}
	e.Spent += amount
	e.Remaining -= amount
	return nil
}

// Refund returns amount to the escrow, capped at the original allocation.
// Used when a transaction drawn from this escrow is reversed.
func (e *DeviceEscrow) Refund(amount int64) {
	e.Spent -= amount
	if e.Spent < 0 {
		e.Spent = 0
	}
	e.Remaining += amount
	if e.Remaining > e.Allocated {
		e.Remaining = e.Allocated
	}
}

// Refresh replaces the allocation and restarts the validity window.
func (e *DeviceEscrow) Refresh(allocated int64, validityDays uint64, now int64) {
	e.Allocated = allocated
	e.Spent = 0
	e.Remaining = allocated
	e.GrantedAt = now
	e.ExpiresAt = now + int64(validityDays*24*60*60)
	e.GrantValidityDays = validityDays
}

// TimeUntilExpiry returns the seconds until the escrow expires; negative once
// the escrow is expired.
func (e *DeviceEscrow) TimeUntilExpiry(now int64) int64 {
	return e.ExpiresAt - now
}
