// Credential pool and balance-check configuration.
package config

import (
	"fmt"
	"time"
)

// AlgorithmRoundRobin is the only rotation policy.
const AlgorithmRoundRobin = "round-robin"

// CredentialsConfig configures the upstream key pool.
type CredentialsConfig struct {
	Keys                    []string `yaml:"keys" toml:"keys"`                                             // Inline keys, in rotation order
	KeysFile                string   `yaml:"keys_file" toml:"keys_file"`                                   // One key per line, # comments
	Algorithm               string   `yaml:"algorithm" toml:"algorithm"`                                   // round-robin
	RemoveOnPaymentRequired *bool    `yaml:"remove_on_payment_required" toml:"remove_on_payment_required"` // Deprecate a key on HTTP 402 (default true)
	SkipThreshold           float64  `yaml:"skip_threshold" toml:"skip_threshold"`                         // Remaining-balance floor
}

func (c *CredentialsConfig) applyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmRoundRobin
	}
	if c.RemoveOnPaymentRequired == nil {
		enabled := true
		c.RemoveOnPaymentRequired = &enabled
	}
}

// RemoveOn402 reports the effective remove_on_payment_required flag.
func (c CredentialsConfig) RemoveOn402() bool {
	return c.RemoveOnPaymentRequired == nil || *c.RemoveOnPaymentRequired
}

// Validate checks credential settings.
func (c CredentialsConfig) Validate() error {
	if c.Algorithm != AlgorithmRoundRobin {
		return fmt.Errorf("invalid credentials.algorithm %q (supported: %s)", c.Algorithm, AlgorithmRoundRobin)
	}
	if c.SkipThreshold < 0 {
		return fmt.Errorf("credentials.skip_threshold must be >= 0")
	}
	return nil
}

// Balance-check defaults.
const (
	DefaultBalanceTotalPath = "usage.standard.totalAllowance"
	DefaultBalanceUsedPath  = "usage.standard.orgTotalTokensUsed"
	DefaultBalanceBatchSize = 10
	DefaultBalanceTimeout   = 15 * time.Second
)

// BalanceConfig configures the out-of-band balance endpoint.
type BalanceConfig struct {
	URL        string   `yaml:"url" toml:"url"`                 // GET with the credential as bearer token; empty disables
	TotalPath  string   `yaml:"total_path" toml:"total_path"`   // gjson path to the total allowance
	UsedPath   string   `yaml:"used_path" toml:"used_path"`     // gjson path to the used amount
	BatchSize  int      `yaml:"batch_size" toml:"batch_size"`   // Concurrent checks per batch
	BatchDelay Duration `yaml:"batch_delay" toml:"batch_delay"` // Pause between batches
	Timeout    Duration `yaml:"timeout" toml:"timeout"`         // Per-check timeout
}

// Enabled reports whether balance checks are configured.
func (b BalanceConfig) Enabled() bool { return b.URL != "" }

func (b *BalanceConfig) applyDefaults() {
	if b.TotalPath == "" {
		b.TotalPath = DefaultBalanceTotalPath
	}
	if b.UsedPath == "" {
		b.UsedPath = DefaultBalanceUsedPath
	}
	if b.BatchSize == 0 {
		b.BatchSize = DefaultBalanceBatchSize
	}
	if b.Timeout == 0 {
		b.Timeout = Duration(DefaultBalanceTimeout)
	}
}

// Validate checks balance settings.
func (b BalanceConfig) Validate() error {
	if b.URL != "" {
		if err := validateHTTPURL(b.URL); err != nil {
			return fmt.Errorf("balance.url: %w", err)
		}
	}
	if b.BatchSize < 1 {
		return fmt.Errorf("balance.batch_size must be >= 1")
	}
	if b.BatchDelay < 0 {
		return fmt.Errorf("balance.batch_delay must be >= 0")
	}
	return nil
}
