package engine

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the flat configuration struct governing one Driver's runs.
type Config struct {
	MaxThreads      int  `toml:"max_threads"`
	MaxBranches     int  `toml:"max_branches"`
	MaxMemory       int  `toml:"max_memory"`
	PreemptionBound *int `toml:"preemption_bound"`
	Log             bool `toml:"log"`
	MaxHistory      int  `toml:"max_history"`
}

// DefaultMaxHistory is the default value filled into Config.MaxHistory.
// The setting is accepted but not enforced: atomics keep their full store
// history for the whole replay and nothing is pruned.
const DefaultMaxHistory = 7

// Validate checks the required knobs before a Driver is built, returning a
// recoverable error rather than panicking. Budget-exhaustion panics only
// apply once a replay is running; a malformed Config is caught up front.
func (c Config) Validate() error {
	if c.MaxThreads <= 0 {
		return fmt.Errorf("loom: config: max_threads must be positive")
	}
	if c.MaxBranches <= 0 {
		return fmt.Errorf("loom: config: max_branches must be positive")
	}
	if c.MaxMemory <= 0 {
		return fmt.Errorf("loom: config: max_memory must be positive")
	}
	if c.PreemptionBound != nil && *c.PreemptionBound < 0 {
		return fmt.Errorf("loom: config: preemption_bound must be >= 0")
	}
	return nil
}

// withDefaults fills MaxHistory with DefaultMaxHistory when unset.
func (c Config) withDefaults() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	return c
}

// LoadConfigFile loads the four numeric knobs plus log and max_history
// from a toml file, for callers tuning a run without recompiling.
func LoadConfigFile(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("loom: loading config file %s: %w", path, err)
	}
	return c.withDefaults(), nil
}
