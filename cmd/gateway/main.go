package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/audit"
	"github.com/DeBrosOfficial/settlement/pkg/billing"
	"github.com/DeBrosOfficial/settlement/pkg/config"
	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/gateway"
	"github.com/DeBrosOfficial/settlement/pkg/ledger"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/moderation"
	"github.com/DeBrosOfficial/settlement/pkg/receipts"
	"github.com/DeBrosOfficial/settlement/pkg/registry"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/tokens"
	"github.com/DeBrosOfficial/settlement/pkg/vault"
)

func setupLogger() *logging.ColoredLogger {
	logger, err := logging.NewColoredLogger(logging.ComponentGateway, true)
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	defaultPath, _ := config.DefaultPath("settlement.yaml")
	configPath := flag.String("config", defaultPath, "path to the settlement config file")
	flag.Parse()

	logger := setupLogger()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.ComponentError(logging.ComponentGateway, "config error", zap.Error(err))
		}
		os.Exit(1)
	}

	comp, recorder, err := wire(cfg, logger)
	if err != nil {
		logger.ComponentError(logging.ComponentGateway, "failed to wire components", zap.Error(err))
		os.Exit(1)
	}
	if recorder != nil {
		defer recorder.Close()
	}

	g, err := gateway.New(logger, &cfg.Gateway, comp)
	if err != nil {
		logger.ComponentError(logging.ComponentGateway, "failed to initialize gateway", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.Start(ctx); err != nil {
		logger.ComponentError(logging.ComponentGateway, "gateway error", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentGateway, "gateway shutdown complete")
}

// wire constructs every settlement component from the validated config and
// cross-links them: the moderation instance becomes the registry operator,
// the exchange becomes the ledger's settlement caller, and the exchange
// settles against the ledger.
func wire(cfg *config.Config, logger *logging.ColoredLogger) (gateway.Components, contracts.AuditRecorder, error) {
	var comp gateway.Components

	adminAddr := common.HexToAddress(cfg.Instance.AdminAddress)
	now := time.Now()
	adminCall := runtime.NewCall(adminAddr, now)

	var recorder contracts.AuditRecorder
	if cfg.Audit.Path != "" {
		sqlite, err := audit.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return comp, nil, err
		}
		recorder = sqlite
		comp.Audit = sqlite
	} else {
		mem := audit.NewMemory()
		recorder = mem
		comp.Audit = mem
	}

	bank := tokens.NewBank()
	for _, bal := range cfg.Bank.Balances {
		amount, _ := new(big.Int).SetString(bal.Amount, 10)
		bank.Mint(contracts.NativeAsset, common.HexToAddress(bal.Address), amount)
	}
	comp.Funds = bank

	reg, err := registry.New(adminAddr, logger)
	if err != nil {
		return comp, recorder, err
	}
	initial := make([]common.Address, 0, len(cfg.Registry.InitialNodes))
	for _, raw := range cfg.Registry.InitialNodes {
		initial = append(initial, common.HexToAddress(raw))
	}
	if len(initial) > 0 {
		if err := reg.Add(adminCall, initial...); err != nil {
			return comp, recorder, err
		}
	}
	comp.Registry = reg

	modSelf := crossAddress(adminAddr, "moderation")
	if err := reg.SetOperator(adminCall, modSelf); err != nil {
		return comp, recorder, err
	}
	mod, err := moderation.New(adminAddr, modSelf, reg,
		uint64(cfg.Moderation.ThresholdPercent), cfg.Moderation.RemovalDelay, logger)
	if err != nil {
		return comp, recorder, err
	}
	comp.Moderation = mod

	vaultSelf := common.HexToAddress(cfg.Instance.VaultAddress)
	v, err := vault.New(adminAddr, vaultSelf, bank.For(vaultSelf),
		cfg.Vault.LimitTolerance, recorder, logger)
	if err != nil {
		return comp, recorder, err
	}
	if cfg.Vault.OperatorAddress != "" {
		if err := v.SetOperator(adminCall, common.HexToAddress(cfg.Vault.OperatorAddress)); err != nil {
			return comp, recorder, err
		}
	}
	comp.Vault = v

	ledgerSelf := common.HexToAddress(cfg.Instance.LedgerAddress)
	l, err := ledger.New(adminAddr, ledgerSelf, reg, bank.For(ledgerSelf), recorder, logger)
	if err != nil {
		return comp, recorder, err
	}
	for _, asset := range cfg.Ledger.Assets {
		rate, _ := new(big.Int).SetString(asset.Rate, 10)
		if err := l.WhitelistAsset(adminCall, common.HexToAddress(asset.Address), rate); err != nil {
			return comp, recorder, err
		}
	}
	if err := l.SetDailyQuota(adminCall, cfg.Ledger.DailyQuota); err != nil {
		return comp, recorder, err
	}
	if cfg.Ledger.MaintenanceFee > 0 {
		if err := l.SetMaintenanceFee(adminCall, cfg.Ledger.MaintenanceFee, cfg.Ledger.MaintenancePeriod); err != nil {
			return comp, recorder, err
		}
	}
	if cfg.Ledger.AuthorityAddress != "" {
		if err := l.SetAuthority(adminCall, common.HexToAddress(cfg.Ledger.AuthorityAddress)); err != nil {
			return comp, recorder, err
		}
	}
	comp.Ledger = l

	exchangeSelf := common.HexToAddress(cfg.Instance.ExchangeAddress)
	if err := l.SetExchange(adminCall, exchangeSelf); err != nil {
		return comp, recorder, err
	}
	exch, err := receipts.New(adminAddr, exchangeSelf, reg, recorder, logger)
	if err != nil {
		return comp, recorder, err
	}
	if err := exch.SetSettler(adminCall, l); err != nil {
		return comp, recorder, err
	}
	comp.Exchange = exch

	if cfg.Billing.Enabled {
		billingSelf := common.HexToAddress(cfg.Instance.BillingAddress)
		bil, err := billing.New(billingSelf, reg, bank.For(billingSelf), recorder, logger)
		if err != nil {
			return comp, recorder, err
		}
		comp.Billing = bil
	}

	return comp, recorder, nil
}

// crossAddress derives a deterministic instance address for an internal
// collaborator that has no externally configured identity.
func crossAddress(admin common.Address, role string) common.Address {
	seed := fmt.Sprintf("%s/%s", admin.Hex(), role)
	return common.BytesToAddress(ethcrypto.Keccak256([]byte(seed))[12:])
}
