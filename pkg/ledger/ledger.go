// Package ledger implements the prepaid usage-credit escrow: asset
// whitelisting with per-unit reward rates, purchase of usage credits (directly
// or through authority-signed orders), daily free-quota accounting, recurring
// maintenance fees, and settlement payout to serving nodes.
//
// All quantities are non-negative integers. Quota arithmetic uses only
// subtraction and max, never division; a zero configured rate is a
// configuration error, not a free service.
package ledger

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/typeddata"
)

// DailyQuotaWindow is the length of the free-quota accounting window.
const DailyQuotaWindow = 24 * time.Hour

// DomainName and DomainVersion scope usage-order signatures to this component.
const (
	DomainName    = "UsageLedger"
	DomainVersion = "1"
)

type assetConfig struct {
	whitelisted bool
	rate        *big.Int
}

type account struct {
	purchasedUnitsRemaining uint64
	freeUnitsUsedToday      uint64
	freeWindowStart         time.Time
	lastMaintenanceAt       time.Time
	nextNonce               uint64
}

// Ledger is the usage-credit escrow. It implements contracts.Settler.
type Ledger struct {
	guard  runtime.Guard
	mu     sync.Mutex
	logger *logging.ColoredLogger
	audit  contracts.AuditRecorder

	admin    common.Address
	self     common.Address
	registry contracts.MembershipRegistry
	backend  contracts.TokenBackend
	domain   typeddata.Domain

	exchange  common.Address
	authority common.Address

	dailyQuota        uint64
	maintenanceFee    uint64
	maintenancePeriod time.Duration
	accruedFeeUnits   uint64

	assets   map[common.Address]*assetConfig
	accounts map[common.Address]*account
	pools    map[common.Address]*big.Int
}

// New creates a usage ledger. self is both the custody identity with the
// backend and the instance address in the signature domain.
func New(admin, self common.Address, registry contracts.MembershipRegistry,
	backend contracts.TokenBackend, audit contracts.AuditRecorder,
	logger *logging.ColoredLogger) (*Ledger, error) {

	if admin == (common.Address{}) {
		return nil, errors.NewConfigurationError("admin", "admin address must not be zero")
	}
	if self == (common.Address{}) {
		return nil, errors.NewConfigurationError("self", "instance address must not be zero")
	}
	if registry == nil {
		return nil, errors.NewConfigurationError("registry", "membership registry required")
	}
	if backend == nil {
		return nil, errors.NewConfigurationError("backend", "token backend required")
	}
	return &Ledger{
		logger:   logger,
		audit:    audit,
		admin:    admin,
		self:     self,
		registry: registry,
		backend:  backend,
		domain:   typeddata.Domain{Name: DomainName, Version: DomainVersion, Instance: self},
		assets:   make(map[common.Address]*assetConfig),
		accounts: make(map[common.Address]*account),
		pools:    make(map[common.Address]*big.Int),
	}, nil
}

// Domain returns the signature domain for usage orders against this instance.
func (l *Ledger) Domain() typeddata.Domain {
	return l.domain
}

// Self returns the instance's custody address.
func (l *Ledger) Self() common.Address {
	return l.self
}

// WhitelistAsset admits an asset at the given per-unit rate. Admin only; a
// zero rate is rejected.
func (l *Ledger) WhitelistAsset(call runtime.Call, asset common.Address, rate *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("whitelistAsset", "admin")
	}
	if rate == nil || rate.Sign() <= 0 {
		return errors.NewConfigurationError("rate", "reward rate must be positive")
	}
	l.assets[asset] = &assetConfig{whitelisted: true, rate: new(big.Int).Set(rate)}
	l.log("asset whitelisted", zap.String("asset", asset.Hex()), zap.String("rate", rate.String()))
	return nil
}

// DelistAsset removes an asset from the whitelist. Existing pool balances
// stay until the asset is re-admitted. Admin only.
func (l *Ledger) DelistAsset(call runtime.Call, asset common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("delistAsset", "admin")
	}
	cfg := l.assets[asset]
	if cfg == nil || !cfg.whitelisted {
		return errors.NewInvalidStateError("asset "+asset.Hex(), "not whitelisted", "whitelisted")
	}
	cfg.whitelisted = false
	return nil
}

// SetDailyQuota sets the free-quota size per window. Admin only.
func (l *Ledger) SetDailyQuota(call runtime.Call, units uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("setDailyQuota", "admin")
	}
	l.dailyQuota = units
	return nil
}

// SetMaintenanceFee configures the recurring fee charged in usage units.
// A zero fee disables charging. Admin only.
func (l *Ledger) SetMaintenanceFee(call runtime.Call, feeUnits uint64, period time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("setMaintenanceFee", "admin")
	}
	if feeUnits > 0 && period <= 0 {
		return errors.NewConfigurationError("maintenancePeriod", "fee period must be positive")
	}
	l.maintenanceFee = feeUnits
	l.maintenancePeriod = period
	return nil
}

// SetExchange configures the only identity allowed to trigger settlement,
// the receipt exchange instance. Admin only.
func (l *Ledger) SetExchange(call runtime.Call, exchange common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("setExchange", "admin")
	}
	if exchange == (common.Address{}) {
		return errors.NewConfigurationError("exchange", "exchange address must not be zero")
	}
	l.exchange = exchange
	return nil
}

// SetAuthority configures the billing authority whose signature admits
// purchase orders. Admin only.
func (l *Ledger) SetAuthority(call runtime.Call, authority common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("setAuthority", "admin")
	}
	if authority == (common.Address{}) {
		return errors.NewConfigurationError("authority", "authority address must not be zero")
	}
	l.authority = authority
	return nil
}

// Purchase buys usage credits for the caller: units at the asset's configured
// rate. Native purchases must attach exactly units × rate; token purchases
// pull exactly that amount from the caller's allowance and must attach no
// native value.
func (l *Ledger) Purchase(call runtime.Call, asset common.Address, units uint64) error {
	if !l.guard.Enter() {
		return errors.NewInvalidStateError("ledger", "executing", "idle")
	}
	defer l.guard.Exit()
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.purchase(call, call.Caller, asset, units, nil)
}

// PurchaseWithOrder buys usage credits under an authority-signed order. The
// order must name the caller as the purchasing client, carry the client's
// next expected nonce, and be signed by the configured authority over the
// canonical domain-separated encoding of its fields. The nonce advances on
// success.
func (l *Ledger) PurchaseWithOrder(call runtime.Call, order *UsageOrder, sig []byte) error {
	if !l.guard.Enter() {
		return errors.NewInvalidStateError("ledger", "executing", "idle")
	}
	defer l.guard.Exit()
	l.mu.Lock()
	defer l.mu.Unlock()

	if order == nil {
		return errors.NewValidationError("order", "order required", nil)
	}
	if l.authority == (common.Address{}) {
		return errors.NewConfigurationError("authority", "billing authority not configured")
	}
	if order.Client != call.Caller {
		return errors.NewAuthorizationError("purchaseUsage", "order client")
	}
	if !order.Kind.Matches(order.Asset) {
		return errors.NewValidationError("assetKind", "asset kind does not match asset", order.Kind.String())
	}

	acct := l.account(call, order.Client)
	if order.Nonce != acct.nextNonce {
		return errors.NewReplayError(acct.nextNonce, order.Nonce)
	}

	signer, err := typeddata.Recover(order.Digest(l.domain), sig)
	if err != nil {
		return err
	}
	if signer != l.authority {
		return errors.NewAuthorizationError("purchaseUsage", "billing authority signature")
	}

	if err := l.purchase(call, order.Client, order.Asset, order.Units, order.TotalPrice); err != nil {
		return err
	}
	acct.nextNonce++
	return nil
}

// purchase is the shared purchase path. Callers hold the lock. expectedTotal,
// when non-nil, must match the computed price exactly (signed-order path).
func (l *Ledger) purchase(call runtime.Call, client, asset common.Address, units uint64, expectedTotal *big.Int) error {
	cfg, err := l.whitelisted(asset)
	if err != nil {
		return err
	}
	if units == 0 {
		return errors.NewValidationError("units", "units must be positive", units)
	}

	total := new(big.Int).Mul(new(big.Int).SetUint64(units), cfg.rate)
	if expectedTotal != nil && total.Cmp(expectedTotal) != 0 {
		return errors.NewValidationError("totalPrice",
			"order price does not match units at configured rate", expectedTotal.String())
	}

	// Every check runs before any funds move, so a rejected purchase never
	// keeps the payment.
	if acct := l.accounts[client]; acct != nil && acct.purchasedUnitsRemaining > math.MaxUint64-units {
		return errors.NewValidationError("units", "purchase would overflow balance", units)
	}

	if asset == contracts.NativeAsset {
		if call.AttachedValue().Cmp(total) != 0 {
			return errors.NewValidationError("value",
				"attached value must equal units times rate", call.AttachedValue().String())
		}
	} else {
		if call.AttachedValue().Sign() != 0 {
			return errors.NewValidationError("value",
				"no native value allowed on token purchases", call.AttachedValue().String())
		}
		if err := l.backend.TransferFrom(asset, client, l.self, total); err != nil {
			return err
		}
	}

	acct := l.account(call, client)
	acct.purchasedUnitsRemaining += units
	l.creditPool(asset, total)

	l.record(call, "purchase", client, l.self, asset, total, "")
	l.log("usage purchased",
		zap.String("client", client.Hex()),
		zap.String("asset", asset.Hex()),
		zap.Uint64("units", units),
		zap.String("paid", total.String()),
	)
	return nil
}

// SettleUsage settles served units from the client's escrow to the node.
// Only the configured exchange may call it. Free-quota units are priced
// against the native asset; charged units against the requested asset. All
// internal debits and credits are applied before any outbound payout, and a
// failed payout reverts everything.
func (l *Ledger) SettleUsage(call runtime.Call, client, node, asset common.Address, servedUnits uint64) error {
	if !l.guard.Enter() {
		return errors.NewInvalidStateError("ledger", "executing", "idle")
	}
	defer l.guard.Exit()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exchange == (common.Address{}) || call.Caller != l.exchange {
		return errors.NewAuthorizationError("settleUsage", "exchange")
	}
	if !l.registry.IsActive(node) {
		return errors.NewInvalidStateError("node "+node.Hex(), "not active", "active")
	}
	cfg, err := l.whitelisted(asset)
	if err != nil {
		return err
	}
	if servedUnits == 0 {
		return errors.NewValidationError("servedUnits", "served units must be positive", servedUnits)
	}

	acct := l.account(call, client)
	var journal runtime.Journal

	if err := l.chargeMaintenance(call, acct, &journal); err != nil {
		journal.Revert()
		return err
	}

	// Reset the free-quota window exactly at the boundary, never early.
	if call.Now.Sub(acct.freeWindowStart) >= DailyQuotaWindow {
		prevUsed, prevStart := acct.freeUnitsUsedToday, acct.freeWindowStart
		acct.freeUnitsUsedToday = 0
		acct.freeWindowStart = call.Now
		journal.Record(func() {
			acct.freeUnitsUsedToday = prevUsed
			acct.freeWindowStart = prevStart
		})
	}

	freeAvailable := uint64(0)
	if l.dailyQuota > acct.freeUnitsUsedToday {
		freeAvailable = l.dailyQuota - acct.freeUnitsUsedToday
	}
	chargedUnits := uint64(0)
	if servedUnits > freeAvailable {
		chargedUnits = servedUnits - freeAvailable
	}
	usedFreeUnits := servedUnits - chargedUnits

	if acct.purchasedUnitsRemaining < chargedUnits {
		journal.Revert()
		return errors.NewInsufficientFundsError("purchased units",
			uitoa(chargedUnits), uitoa(acct.purchasedUnitsRemaining))
	}

	chargedTotal := new(big.Int).Mul(new(big.Int).SetUint64(chargedUnits), cfg.rate)
	freeTotal := new(big.Int)
	if usedFreeUnits > 0 {
		nativeCfg, err := l.whitelisted(contracts.NativeAsset)
		if err != nil {
			journal.Revert()
			return err
		}
		freeTotal.Mul(new(big.Int).SetUint64(usedFreeUnits), nativeCfg.rate)
	}

	if err := l.requirePool(asset, chargedTotal); err != nil {
		journal.Revert()
		return err
	}
	if freeTotal.Sign() > 0 {
		need := freeTotal
		if asset == contracts.NativeAsset {
			need = new(big.Int).Add(chargedTotal, freeTotal)
		}
		if err := l.requirePool(contracts.NativeAsset, need); err != nil {
			journal.Revert()
			return err
		}
	}

	// Apply every internal mutation before paying out.
	prevUnits := acct.purchasedUnitsRemaining
	acct.purchasedUnitsRemaining -= chargedUnits
	journal.Record(func() { acct.purchasedUnitsRemaining = prevUnits })

	prevFree := acct.freeUnitsUsedToday
	acct.freeUnitsUsedToday += usedFreeUnits
	journal.Record(func() { acct.freeUnitsUsedToday = prevFree })

	l.debitPool(asset, chargedTotal, &journal)
	if freeTotal.Sign() > 0 {
		l.debitPool(contracts.NativeAsset, freeTotal, &journal)
	}

	if asset == contracts.NativeAsset {
		payout := new(big.Int).Add(chargedTotal, freeTotal)
		if payout.Sign() > 0 {
			if err := l.backend.Transfer(contracts.NativeAsset, node, payout); err != nil {
				journal.Revert()
				return errors.NewTransferFailureError(contracts.NativeAsset.Hex(), node.Hex(), err)
			}
		}
	} else {
		if chargedTotal.Sign() > 0 {
			if err := l.backend.Transfer(asset, node, chargedTotal); err != nil {
				journal.Revert()
				return errors.NewTransferFailureError(asset.Hex(), node.Hex(), err)
			}
		}
		if freeTotal.Sign() > 0 {
			if err := l.backend.Transfer(contracts.NativeAsset, node, freeTotal); err != nil {
				journal.Revert()
				return errors.NewTransferFailureError(contracts.NativeAsset.Hex(), node.Hex(), err)
			}
		}
	}

	l.record(call, "settle", client, node, asset, chargedTotal, "charged units "+uitoa(chargedUnits))
	if freeTotal.Sign() > 0 {
		l.record(call, "settle_free", client, node, contracts.NativeAsset, freeTotal, "free units "+uitoa(usedFreeUnits))
	}
	l.log("usage settled",
		zap.String("client", client.Hex()),
		zap.String("node", node.Hex()),
		zap.Uint64("served", servedUnits),
		zap.Uint64("charged", chargedUnits),
		zap.Uint64("free", usedFreeUnits),
	)
	return nil
}

// WithdrawFees sweeps accrued maintenance fees, priced at the native rate,
// from the native pool. Admin only.
func (l *Ledger) WithdrawFees(call runtime.Call, to common.Address) error {
	if !l.guard.Enter() {
		return errors.NewInvalidStateError("ledger", "executing", "idle")
	}
	defer l.guard.Exit()
	l.mu.Lock()
	defer l.mu.Unlock()

	if call.Caller != l.admin {
		return errors.NewAuthorizationError("withdrawFees", "admin")
	}
	if to == (common.Address{}) {
		return errors.NewValidationError("to", "recipient must not be zero", nil)
	}
	if l.accruedFeeUnits == 0 {
		return errors.NewInvalidStateError("fees", "nothing accrued", "accrued")
	}
	nativeCfg, err := l.whitelisted(contracts.NativeAsset)
	if err != nil {
		return err
	}
	value := new(big.Int).Mul(new(big.Int).SetUint64(l.accruedFeeUnits), nativeCfg.rate)
	if err := l.requirePool(contracts.NativeAsset, value); err != nil {
		return err
	}

	var journal runtime.Journal
	prevFees := l.accruedFeeUnits
	l.accruedFeeUnits = 0
	journal.Record(func() { l.accruedFeeUnits = prevFees })
	l.debitPool(contracts.NativeAsset, value, &journal)

	if err := l.backend.Transfer(contracts.NativeAsset, to, value); err != nil {
		journal.Revert()
		return errors.NewTransferFailureError(contracts.NativeAsset.Hex(), to.Hex(), err)
	}

	l.record(call, "withdraw_fees", l.admin, to, contracts.NativeAsset, value, "")
	return nil
}

// PurchasedUnits returns the client's remaining prepaid units.
func (l *Ledger) PurchasedUnits(client common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct := l.accounts[client]; acct != nil {
		return acct.purchasedUnitsRemaining
	}
	return 0
}

// FreeUnitsUsed returns the client's free-quota consumption in the current
// window.
func (l *Ledger) FreeUnitsUsed(client common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct := l.accounts[client]; acct != nil {
		return acct.freeUnitsUsedToday
	}
	return 0
}

// NextNonce returns the client's next expected order nonce.
func (l *Ledger) NextNonce(client common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct := l.accounts[client]; acct != nil {
		return acct.nextNonce
	}
	return 0
}

// PoolBalance returns the escrow pool balance for an asset.
func (l *Ledger) PoolBalance(asset common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pool := l.pools[asset]; pool != nil {
		return new(big.Int).Set(pool)
	}
	return new(big.Int)
}

// AccruedFeeUnits returns the maintenance fee units collected since the last
// sweep.
func (l *Ledger) AccruedFeeUnits() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accruedFeeUnits
}

// chargeMaintenance deducts at most one period's fee when due. The first
// activity on an account starts its fee clock without charging.
func (l *Ledger) chargeMaintenance(call runtime.Call, acct *account, journal *runtime.Journal) error {
	if l.maintenanceFee == 0 {
		return nil
	}
	if acct.lastMaintenanceAt.IsZero() {
		acct.lastMaintenanceAt = call.Now
		return nil
	}
	if call.Now.Sub(acct.lastMaintenanceAt) < l.maintenancePeriod {
		return nil
	}
	if acct.purchasedUnitsRemaining < l.maintenanceFee {
		return errors.NewInsufficientFundsError("purchased units for maintenance fee",
			uitoa(l.maintenanceFee), uitoa(acct.purchasedUnitsRemaining))
	}

	prevUnits := acct.purchasedUnitsRemaining
	prevAt := acct.lastMaintenanceAt
	prevFees := l.accruedFeeUnits
	acct.purchasedUnitsRemaining -= l.maintenanceFee
	acct.lastMaintenanceAt = call.Now
	l.accruedFeeUnits += l.maintenanceFee
	journal.Record(func() {
		acct.purchasedUnitsRemaining = prevUnits
		acct.lastMaintenanceAt = prevAt
		l.accruedFeeUnits = prevFees
	})
	return nil
}

func (l *Ledger) whitelisted(asset common.Address) (*assetConfig, error) {
	cfg := l.assets[asset]
	if cfg == nil || !cfg.whitelisted {
		return nil, errors.NewConfigurationError("asset", "asset "+asset.Hex()+" not whitelisted")
	}
	if cfg.rate == nil || cfg.rate.Sign() <= 0 {
		return nil, errors.NewConfigurationError("rate", "reward rate unset for asset "+asset.Hex())
	}
	return cfg, nil
}

func (l *Ledger) account(call runtime.Call, client common.Address) *account {
	acct := l.accounts[client]
	if acct == nil {
		acct = &account{freeWindowStart: call.Now}
		l.accounts[client] = acct
	}
	return acct
}

func (l *Ledger) creditPool(asset common.Address, amount *big.Int) {
	if pool, ok := l.pools[asset]; ok {
		pool.Add(pool, amount)
		return
	}
	l.pools[asset] = new(big.Int).Set(amount)
}

func (l *Ledger) debitPool(asset common.Address, amount *big.Int, journal *runtime.Journal) {
	if amount.Sign() == 0 {
		return
	}
	pool := l.pools[asset]
	prev := new(big.Int).Set(pool)
	pool.Sub(pool, amount)
	journal.Record(func() { pool.Set(prev) })
}

// requirePool checks the pool covers amount. A zero requirement always holds,
// even against an asset no one has purchased yet.
func (l *Ledger) requirePool(asset common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	pool := l.pools[asset]
	if pool == nil || pool.Cmp(amount) < 0 {
		have := "0"
		if pool != nil {
			have = pool.String()
		}
		return errors.NewInsufficientFundsError("asset pool "+asset.Hex(), amount.String(), have)
	}
	return nil
}

func (l *Ledger) record(call runtime.Call, op string, actor, counterparty, asset common.Address, delta *big.Int, memo string) {
	if l.audit == nil {
		return
	}
	entry := contracts.AuditEntry{
		At:           call.Now,
		Component:    "ledger",
		Op:           op,
		Actor:        actor,
		Counterparty: counterparty,
		Asset:        asset,
		Delta:        new(big.Int).Set(delta),
		Memo:         memo,
	}
	if err := l.audit.Record(entry); err != nil && l.logger != nil {
		l.logger.ComponentError(logging.ComponentLedger, "audit record failed", zap.Error(err))
	}
}

func (l *Ledger) log(msg string, fields ...zap.Field) {
	if l.logger != nil {
		l.logger.ComponentInfo(logging.ComponentLedger, msg, fields...)
	}
}

func uitoa(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
