package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CordonEntry excludes a feature value fleet-wide during healing.
type CordonEntry struct {
	Feature     string `yaml:"feature"`
	Value       string `yaml:"value"`
	Explanation string `yaml:"explanation,omitempty"`
}

// RuntimeConfig holds the file-based settings, serialized as YAML. It is
// loaded once when a command starts and is not reloaded afterwards.
type RuntimeConfig struct {
	// Subnets healed before everything else, by metadata name.
	ImportantSubnets []string `yaml:"important_subnets"`

	// Fleet-wide feature cordons.
	Cordons []CordonEntry `yaml:"cordons"`

	// Heal behavior toggles.
	HealEnabled           bool `yaml:"heal_enabled"`
	OptimizeEnabled       bool `yaml:"optimize_enabled"`
	RemoveCordonedEnabled bool `yaml:"remove_cordoned_enabled"`

	// Reward period length used by `rewards calculate` when --start and
	// --end are omitted.
	RewardPeriodDays int `yaml:"reward_period_days"`

	// Collaborator timeouts.
	OracleTimeout Duration `yaml:"oracle_timeout"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with
// defaults matching mainnet operations.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ImportantSubnets:      []string{"NNS", "SNS", "Bitcoin", "Internet Identity", "tECDSA signing"},
		Cordons:               []CordonEntry{},
		HealEnabled:           true,
		OptimizeEnabled:       true,
		RemoveCordonedEnabled: true,
		RewardPeriodDays:      30,
		OracleTimeout:         Duration(30 * time.Second),
	}
}

// LoadRuntimeConfig reads a YAML file over the defaults. A missing path
// returns the defaults unchanged.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := NewDefaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
