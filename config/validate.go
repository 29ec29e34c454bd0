package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the ledger cannot operate
// with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("DeviceID must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("DataDir must not be empty")
	}
	if c.EscrowLowThresholdPercent == 0 || c.EscrowLowThresholdPercent > 100 {
		return fmt.Errorf("EscrowLowThresholdPercent must be within 1-100, got %d", c.EscrowLowThresholdPercent)
	}
	if c.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("ReconcileIntervalSeconds must be positive, got %d", c.ReconcileIntervalSeconds)
	}
	if n := len(c.CommitteeMembers); n > 0 && n < 4 {
		return fmt.Errorf("CommitteeMembers requires at least 4 members (3f+1 with f=1), got %d", n)
	}
	return nil
}
