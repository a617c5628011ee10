// Package config defines the settlement daemon configuration, loaded from
// strict YAML and validated before any component is constructed.
package config

import (
	"os"
	"time"
)

// Config represents the main configuration for a settlement daemon.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Registry   RegistryConfig   `yaml:"registry"`
	Moderation ModerationConfig `yaml:"moderation"`
	Vault      VaultConfig      `yaml:"vault"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Billing    BillingConfig    `yaml:"billing"`
	Bank       BankConfig       `yaml:"bank"`
	Audit      AuditConfig      `yaml:"audit"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies the deployed instance and its administrative role.
type InstanceConfig struct {
	AdminAddress    string `yaml:"admin_address"`    // Administrative identity
	LedgerAddress   string `yaml:"ledger_address"`   // Usage ledger instance identity
	ExchangeAddress string `yaml:"exchange_address"` // Receipt exchange instance identity
	VaultAddress    string `yaml:"vault_address"`    // Vault instance identity
	BillingAddress  string `yaml:"billing_address"`  // Billing authorization instance identity
	DataDir         string `yaml:"data_dir"`         // Data directory
}

// RegistryConfig contains node-membership configuration.
type RegistryConfig struct {
	InitialNodes []string `yaml:"initial_nodes"` // Node addresses registered at startup
}

// ModerationConfig contains peer-removal configuration.
type ModerationConfig struct {
	ThresholdPercent int           `yaml:"threshold_percent"` // Report quorum as a percentage of active nodes
	RemovalDelay     time.Duration `yaml:"removal_delay"`     // Delay between scheduling and finalizing a removal
}

// VaultConfig contains the balance-vault configuration.
type VaultConfig struct {
	OperatorAddress string        `yaml:"operator_address"` // Identity allowed to move custodied funds
	LimitTolerance  time.Duration `yaml:"limit_tolerance"`  // Slack applied to spending-limit window resets
}

// AssetConfig admits one asset to the ledger whitelist.
type AssetConfig struct {
	Address string `yaml:"address"` // Asset address; the zero address is the native asset
	Rate    string `yaml:"rate"`    // Per-unit reward rate, base-10
}

// LedgerConfig contains usage-escrow configuration.
type LedgerConfig struct {
	Assets            []AssetConfig `yaml:"assets"`             // Whitelisted assets and rates
	DailyQuota        uint64        `yaml:"daily_quota"`        // Free units per client per window
	MaintenanceFee    uint64        `yaml:"maintenance_fee"`    // Recurring fee in usage units, 0 disables
	MaintenancePeriod time.Duration `yaml:"maintenance_period"` // Fee period
	AuthorityAddress  string        `yaml:"authority_address"`  // Billing authority for signed orders, optional
}

// BillingConfig contains pay-per-transaction configuration.
type BillingConfig struct {
	Enabled bool `yaml:"enabled"` // Expose the direct bill-payment path
}

// BalanceConfig seeds one native host balance at startup.
type BalanceConfig struct {
	Address string `yaml:"address"` // Funded identity
	Amount  string `yaml:"amount"`  // Native balance, base-10
}

// BankConfig seeds the in-process host balances. Attached native value on API
// requests is debited from these balances into component custody.
type BankConfig struct {
	Balances []BalanceConfig `yaml:"balances"`
}

// AuditConfig contains accounting-trail configuration.
type AuditConfig struct {
	Path string `yaml:"path"` // SQLite database path; empty keeps the trail in memory
}

// GatewayConfig contains the HTTP API configuration.
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`     // Address to listen on (e.g., ":8080")
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per-request timeout
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// Load reads, strictly decodes, and validates a config file. Validation
// errors are aggregated so the caller can report all issues at once.
func Load(path string) (*Config, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()

	var cfg Config
	if err := DecodeStrict(f, &cfg); err != nil {
		return nil, []error{err}
	}
	cfg.applyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Moderation.ThresholdPercent == 0 {
		c.Moderation.ThresholdPercent = 50
	}
	if c.Moderation.RemovalDelay == 0 {
		c.Moderation.RemovalDelay = time.Hour
	}
	if c.Gateway.ListenAddr == "" {
		c.Gateway.ListenAddr = ":8080"
	}
	if c.Gateway.RequestTimeout == 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
