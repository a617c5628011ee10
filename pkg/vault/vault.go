// Package vault implements a generic custodial balance ledger decoupled from
// usage semantics: per-(identity, asset) deposits, withdrawals releasing funds
// through the token backend, and operator-authorized transfers rate-limited by
// per-identity spending limits.
package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// SpendingLimit caps how fast a custodied balance can be drained by operator
// transfers. A single transfer may not exceed MaxPerSession; cumulative
// transfers within a period may not exceed MaxPerPeriod. The window resets
// once the configured period (less the vault's tolerance) has elapsed since
// the window start.
type SpendingLimit struct {
	MaxPerSession *big.Int
	MaxPerPeriod  *big.Int
	Period        time.Duration

	periodStart   time.Time
	spentInPeriod *big.Int
}

type balanceKey struct {
	owner common.Address
	asset common.Address
}

// Vault is the custodial balance ledger.
type Vault struct {
	guard  runtime.Guard
	mu     sync.Mutex
	logger *logging.ColoredLogger
	audit  contracts.AuditRecorder

	admin    common.Address
	operator common.Address
	self     common.Address
	backend  contracts.TokenBackend

	// tolerance shaves the period comparison so a transfer arriving a hair
	// before the nominal boundary still opens a fresh window. Zero means
	// strict boundaries.
	tolerance time.Duration

	balances map[balanceKey]*big.Int
	limits   map[common.Address]*SpendingLimit
}

// New creates a vault. self is this instance's custody identity with the
// backend; audit and logger may be nil.
func New(admin, self common.Address, backend contracts.TokenBackend,
	tolerance time.Duration, audit contracts.AuditRecorder,
	logger *logging.ColoredLogger) (*Vault, error) {

	if admin == (common.Address{}) {
		return nil, errors.NewConfigurationError("admin", "admin address must not be zero")
	}
	if self == (common.Address{}) {
		return nil, errors.NewConfigurationError("self", "instance address must not be zero")
	}
	if backend == nil {
		return nil, errors.NewConfigurationError("backend", "token backend required")
	}
	if tolerance < 0 {
		return nil, errors.NewConfigurationError("tolerance", "tolerance must not be negative")
	}
	return &Vault{
		logger:    logger,
		audit:     audit,
		admin:     admin,
		self:      self,
		backend:   backend,
		tolerance: tolerance,
		balances:  make(map[balanceKey]*big.Int),
		limits:    make(map[common.Address]*SpendingLimit),
	}, nil
}

// Self returns the instance's custody address.
func (v *Vault) Self() common.Address {
	return v.self
}

// SetOperator configures the identity allowed to move custodied funds between
// accounts. Admin only.
func (v *Vault) SetOperator(call runtime.Call, operator common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if call.Caller != v.admin {
		return errors.NewAuthorizationError("setOperator", "admin")
	}
	if operator == (common.Address{}) {
		return errors.NewConfigurationError("operator", "operator address must not be zero")
	}
	v.operator = operator
	return nil
}

// Deposit credits the caller's custodied balance. For the native asset the
// attached value must equal amount exactly; for token assets the amount is
// pulled from the caller's pre-approved allowance and no native value may be
// attached.
func (v *Vault) Deposit(call runtime.Call, asset common.Address, amount *big.Int) error {
	if !v.guard.Enter() {
		return errors.NewInvalidStateError("vault", "executing", "idle")
	}
	defer v.guard.Exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := requirePositive(amount); err != nil {
		return err
	}
	if asset == contracts.NativeAsset {
		if call.AttachedValue().Cmp(amount) != 0 {
			return errors.NewValidationError("value",
				"attached value must equal deposit amount", call.AttachedValue().String())
		}
	} else {
		if call.AttachedValue().Sign() != 0 {
			return errors.NewValidationError("value",
				"no native value allowed on token deposits", call.AttachedValue().String())
		}
		if err := v.backend.TransferFrom(asset, call.Caller, v.self, amount); err != nil {
			return err
		}
	}

	v.credit(call.Caller, asset, amount)
	v.record(call, "deposit", call.Caller, v.self, asset, amount, "")
	v.log("deposit",
		zap.String("owner", call.Caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// Withdraw debits the caller's custodied balance and releases the funds
// through the backend. A failed release reverts the debit and aborts.
func (v *Vault) Withdraw(call runtime.Call, asset common.Address, amount *big.Int) error {
	if !v.guard.Enter() {
		return errors.NewInvalidStateError("vault", "executing", "idle")
	}
	defer v.guard.Exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := requirePositive(amount); err != nil {
		return err
	}
	key := balanceKey{call.Caller, asset}
	bal := v.balances[key]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.NewInsufficientFundsError("balance", amount.String(), balString(bal))
	}

	// Debit before the outbound release; revert if the release fails.
	var journal runtime.Journal
	prev := new(big.Int).Set(bal)
	bal.Sub(bal, amount)
	journal.Record(func() { bal.Set(prev) })

	if err := v.backend.Transfer(asset, call.Caller, amount); err != nil {
		journal.Revert()
		return errors.NewTransferFailureError(asset.Hex(), call.Caller.Hex(), err)
	}

	v.record(call, "withdraw", call.Caller, call.Caller, asset, new(big.Int).Neg(amount), "")
	v.log("withdraw",
		zap.String("owner", call.Caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// Transfer moves custodied funds between accounts. Operator only; enforced
// against the source account's spending limit before the debit.
func (v *Vault) Transfer(call runtime.Call, from, to, asset common.Address, amount *big.Int) error {
	if !v.guard.Enter() {
		return errors.NewInvalidStateError("vault", "executing", "idle")
	}
	defer v.guard.Exit()
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.operator == (common.Address{}) || call.Caller != v.operator {
		return errors.NewAuthorizationError("transfer", "operator")
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	windowReset, err := v.checkLimit(call.Now, from, amount)
	if err != nil {
		return err
	}

	key := balanceKey{from, asset}
	bal := v.balances[key]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.NewInsufficientFundsError("balance", amount.String(), balString(bal))
	}

	bal.Sub(bal, amount)
	v.credit(to, asset, amount)
	if limit := v.limits[from]; limit != nil {
		if windowReset {
			limit.periodStart = call.Now
			limit.spentInPeriod = new(big.Int)
		}
		limit.spentInPeriod.Add(limit.spentInPeriod, amount)
	}

	v.record(call, "transfer", from, to, asset, amount, "")
	v.log("transfer",
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// SetLimit installs or replaces the caller's own spending limit. The period
// window starts at the call's timestamp.
func (v *Vault) SetLimit(call runtime.Call, maxPerSession, maxPerPeriod *big.Int, period time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if maxPerSession == nil || maxPerSession.Sign() <= 0 {
		return errors.NewValidationError("maxPerSession", "session limit must be positive", nil)
	}
	if maxPerPeriod == nil || maxPerPeriod.Sign() <= 0 {
		return errors.NewValidationError("maxPerPeriod", "period limit must be positive", nil)
	}
	if maxPerSession.Cmp(maxPerPeriod) > 0 {
		return errors.NewValidationError("maxPerSession", "session limit exceeds period limit", nil)
	}
	if period <= 0 {
		return errors.NewValidationError("period", "period must be positive", period.String())
	}
	v.limits[call.Caller] = &SpendingLimit{
		MaxPerSession: new(big.Int).Set(maxPerSession),
		MaxPerPeriod:  new(big.Int).Set(maxPerPeriod),
		Period:        period,
		periodStart:   call.Now,
		spentInPeriod: new(big.Int),
	}
	return nil
}

// ClearLimit removes the caller's own spending limit.
func (v *Vault) ClearLimit(call runtime.Call) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.limits, call.Caller)
	return nil
}

// Balance returns the owner's custodied balance of asset.
func (v *Vault) Balance(owner, asset common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal := v.balances[balanceKey{owner, asset}]; bal != nil {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Limit returns a copy of the owner's spending limit, if set.
func (v *Vault) Limit(owner common.Address) (SpendingLimit, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l := v.limits[owner]
	if l == nil {
		return SpendingLimit{}, false
	}
	return SpendingLimit{
		MaxPerSession: new(big.Int).Set(l.MaxPerSession),
		MaxPerPeriod:  new(big.Int).Set(l.MaxPerPeriod),
		Period:        l.Period,
		periodStart:   l.periodStart,
		spentInPeriod: new(big.Int).Set(l.spentInPeriod),
	}, true
}

// Spent returns how much of the period budget the owner has used.
func (l SpendingLimit) Spent() *big.Int {
	if l.spentInPeriod == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.spentInPeriod)
}

// checkLimit enforces the source account's spending limit without mutating it.
// It reports whether an elapsed period window should be reset; the caller
// applies the reset only once the transfer is through.
func (v *Vault) checkLimit(now time.Time, from common.Address, amount *big.Int) (bool, error) {
	limit := v.limits[from]
	if limit == nil {
		return false, nil
	}
	reset := now.Sub(limit.periodStart) >= limit.Period-v.tolerance
	spent := limit.spentInPeriod
	if reset {
		spent = new(big.Int)
	}
	if amount.Cmp(limit.MaxPerSession) > 0 {
		return false, errors.NewLimitExceededError("session", amount.String(), limit.MaxPerSession.String())
	}
	projected := new(big.Int).Add(spent, amount)
	if projected.Cmp(limit.MaxPerPeriod) > 0 {
		return false, errors.NewLimitExceededError("period", projected.String(), limit.MaxPerPeriod.String())
	}
	return reset, nil
}

func (v *Vault) credit(owner, asset common.Address, amount *big.Int) {
	key := balanceKey{owner, asset}
	if bal, ok := v.balances[key]; ok {
		bal.Add(bal, amount)
		return
	}
	v.balances[key] = new(big.Int).Set(amount)
}

func (v *Vault) record(call runtime.Call, op string, actor, counterparty, asset common.Address, delta *big.Int, memo string) {
	if v.audit == nil {
		return
	}
	entry := contracts.AuditEntry{
		At:           call.Now,
		Component:    "vault",
		Op:           op,
		Actor:        actor,
		Counterparty: counterparty,
		Asset:        asset,
		Delta:        new(big.Int).Set(delta),
		Memo:         memo,
	}
	if err := v.audit.Record(entry); err != nil && v.logger != nil {
		v.logger.ComponentError(logging.ComponentVault, "audit record failed", zap.Error(err))
	}
}

func (v *Vault) log(msg string, fields ...zap.Field) {
	if v.logger != nil {
		v.logger.ComponentInfo(logging.ComponentVault, msg, fields...)
	}
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.NewValidationError("amount", "amount must be positive", amount)
	}
	return nil
}

func balString(bal *big.Int) string {
	if bal == nil {
		return "0"
	}
	return bal.String()
}
