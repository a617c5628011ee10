package config

import (
	"fmt"
	"math/big"
	"net"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "ledger.assets[0].rate"
	Message string // e.g., "not a base-10 integer"
	Hint    string // e.g., "expected a positive integer string"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print
// all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateInstance()...)
	errs = append(errs, c.validateRegistry()...)
	errs = append(errs, c.validateModeration()...)
	errs = append(errs, c.validateVault()...)
	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateBank()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateInstance() []error {
	var errs []error
	required := []struct {
		path  string
		value string
	}{
		{"instance.admin_address", c.Instance.AdminAddress},
		{"instance.ledger_address", c.Instance.LedgerAddress},
		{"instance.exchange_address", c.Instance.ExchangeAddress},
		{"instance.vault_address", c.Instance.VaultAddress},
	}
	for _, f := range required {
		errs = append(errs, validateAddress(f.path, f.value, true)...)
	}
	if c.Billing.Enabled {
		errs = append(errs, validateAddress("instance.billing_address", c.Instance.BillingAddress, true)...)
	}
	return errs
}

func (c *Config) validateRegistry() []error {
	var errs []error
	seen := make(map[common.Address]bool)
	for i, addr := range c.Registry.InitialNodes {
		path := fmt.Sprintf("registry.initial_nodes[%d]", i)
		errs = append(errs, validateAddress(path, addr, true)...)
		if common.IsHexAddress(addr) {
			parsed := common.HexToAddress(addr)
			if seen[parsed] {
				errs = append(errs, ValidationError{
					Path:    path,
					Message: "duplicate node address",
				})
			}
			seen[parsed] = true
		}
	}
	return errs
}

func (c *Config) validateModeration() []error {
	var errs []error
	if c.Moderation.ThresholdPercent < 1 || c.Moderation.ThresholdPercent > 100 {
		errs = append(errs, ValidationError{
			Path:    "moderation.threshold_percent",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", c.Moderation.ThresholdPercent),
		})
	}
	if c.Moderation.RemovalDelay <= 0 {
		errs = append(errs, ValidationError{
			Path:    "moderation.removal_delay",
			Message: "must be positive",
			Hint:    "e.g., \"1h\"",
		})
	}
	return errs
}

func (c *Config) validateVault() []error {
	var errs []error
	errs = append(errs, validateAddress("vault.operator_address", c.Vault.OperatorAddress, false)...)
	if c.Vault.LimitTolerance < 0 {
		errs = append(errs, ValidationError{
			Path:    "vault.limit_tolerance",
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateLedger() []error {
	var errs []error
	seen := make(map[common.Address]bool)
	for i, asset := range c.Ledger.Assets {
		base := fmt.Sprintf("ledger.assets[%d]", i)
		if !common.IsHexAddress(asset.Address) {
			errs = append(errs, ValidationError{
				Path:    base + ".address",
				Message: fmt.Sprintf("invalid address %q", asset.Address),
				Hint:    "expected a 0x-prefixed 20-byte hex address; the zero address is the native asset",
			})
		} else {
			parsed := common.HexToAddress(asset.Address)
			if seen[parsed] {
				errs = append(errs, ValidationError{
					Path:    base + ".address",
					Message: "duplicate asset",
				})
			}
			seen[parsed] = true
		}
		rate, ok := new(big.Int).SetString(asset.Rate, 10)
		if !ok || rate.Sign() <= 0 {
			errs = append(errs, ValidationError{
				Path:    base + ".rate",
				Message: fmt.Sprintf("invalid rate %q", asset.Rate),
				Hint:    "expected a positive base-10 integer string",
			})
		}
	}
	if c.Ledger.MaintenanceFee > 0 && c.Ledger.MaintenancePeriod <= 0 {
		errs = append(errs, ValidationError{
			Path:    "ledger.maintenance_period",
			Message: "must be positive when a maintenance fee is configured",
		})
	}
	errs = append(errs, validateAddress("ledger.authority_address", c.Ledger.AuthorityAddress, false)...)
	return errs
}

func (c *Config) validateBank() []error {
	var errs []error
	seen := make(map[common.Address]bool)
	for i, bal := range c.Bank.Balances {
		base := fmt.Sprintf("bank.balances[%d]", i)
		errs = append(errs, validateAddress(base+".address", bal.Address, true)...)
		if common.IsHexAddress(bal.Address) {
			parsed := common.HexToAddress(bal.Address)
			if seen[parsed] {
				errs = append(errs, ValidationError{
					Path:    base + ".address",
					Message: "duplicate balance entry",
				})
			}
			seen[parsed] = true
		}
		amount, ok := new(big.Int).SetString(bal.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			errs = append(errs, ValidationError{
				Path:    base + ".amount",
				Message: fmt.Sprintf("invalid amount %q", bal.Amount),
				Hint:    "expected a positive base-10 integer string",
			})
		}
	}
	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Gateway.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: fmt.Sprintf("invalid listen address: %v", err),
			Hint:    "expected host:port, e.g., \":8080\"",
		})
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.request_timeout",
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
			Hint:    "expected one of debug, info, warn, error",
		})
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
			Hint:    "expected json or console",
		})
	}
	return errs
}

// validateAddress checks a hex address field. Optional fields may be empty;
// required fields must also not be the zero address.
func validateAddress(path, value string, required bool) []error {
	if value == "" {
		if required {
			return []error{ValidationError{
				Path:    path,
				Message: "must not be empty",
				Hint:    "expected a 0x-prefixed 20-byte hex address",
			}}
		}
		return nil
	}
	if !common.IsHexAddress(value) {
		return []error{ValidationError{
			Path:    path,
			Message: fmt.Sprintf("invalid address %q", value),
			Hint:    "expected a 0x-prefixed 20-byte hex address",
		}}
	}
	if required && common.HexToAddress(value) == (common.Address{}) {
		return []error{ValidationError{
			Path:    path,
			Message: "must not be the zero address",
		}}
	}
	return nil
}
