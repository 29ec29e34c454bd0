package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the host-level settings for the mutual-credit ledger.
type Config struct {
	// DataDir is where the persistent account database lives.
	DataDir string `toml:"DataDir"`
	// DeviceID identifies this device to the committee; every escrow grant
	// is scoped to it.
	DeviceID string `toml:"DeviceID"`
	// EscrowLowThresholdPercent is the remaining-escrow percentage that
	// triggers a background refresh.
	EscrowLowThresholdPercent uint8 `toml:"EscrowLowThresholdPercent"`
	// ReconcileIntervalSeconds is how often the host should ask the
	// committee to reconcile.
	ReconcileIntervalSeconds int `toml:"ReconcileIntervalSeconds"`
	// CommitteeMembers lists the committee, 3f+1 members. Empty when the
	// host wires its own committee implementation.
	CommitteeMembers []string `toml:"CommitteeMembers"`
	// Service and Environment label log output.
	Service     string `toml:"Service"`
	Environment string `toml:"Environment"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DataDir:                   "./creditmesh-data",
		DeviceID:                  "device-local",
		EscrowLowThresholdPercent: 20,
		ReconcileIntervalSeconds:  300,
		Service:                   "creditmesh",
	}
}

// Load reads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
