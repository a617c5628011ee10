// Package tokens provides an in-process asset backend implementing the
// contracts.TokenBackend custody interface: per-asset balances, pre-approved
// allowances, and holder-bound views so each settlement component moves funds
// only from its own custody. It backs the gateway wiring and the package
// tests, and supports failure injection so payout-revert paths can be
// exercised.
package tokens

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
)

type balanceKey struct {
	asset common.Address
	owner common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Bank is a minimal multi-asset token bank.
type Bank struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	blocked    map[common.Address]bool
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		blocked:    make(map[common.Address]bool),
	}
}

// Mint credits amount of asset to the owner.
func (b *Bank) Mint(asset, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, owner, amount)
}

// Approve lets spender pull up to amount of the owner's asset.
func (b *Bank) Approve(owner, spender, asset common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey{asset, owner, spender}] = new(big.Int).Set(amount)
}

// Allowance returns how much spender may still pull from owner.
func (b *Bank) Allowance(owner, spender, asset common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allowances[allowanceKey{asset, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// BalanceOf returns the owner's balance of asset.
func (b *Bank) BalanceOf(asset, owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[balanceKey{asset, owner}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// BlockRecipient makes every transfer to addr fail. Used in tests to exercise
// the payout-revert paths.
func (b *Bank) BlockRecipient(addr common.Address, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[addr] = blocked
}

// For returns a custody view bound to holder. The view's Transfer debits the
// holder, and its TransferFrom consumes allowances granted to the holder.
func (b *Bank) For(holder common.Address) contracts.TokenBackend {
	return &boundView{bank: b, holder: holder}
}

func (b *Bank) credit(asset, owner common.Address, amount *big.Int) {
	key := balanceKey{asset, owner}
	if bal, ok := b.balances[key]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[key] = new(big.Int).Set(amount)
}

func (b *Bank) move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.NewValidationError("amount", "amount must be non-negative", amount)
	}
	if b.blocked[to] {
		return errors.Newf("recipient %s rejects transfers", to.Hex())
	}
	key := balanceKey{asset, from}
	bal := b.balances[key]
	if bal == nil || bal.Cmp(amount) < 0 {
		have := "0"
		if bal != nil {
			have = bal.String()
		}
		return errors.NewInsufficientFundsError("balance", amount.String(), have)
	}
	bal.Sub(bal, amount)
	b.credit(asset, to, amount)
	return nil
}

type boundView struct {
	bank   *Bank
	holder common.Address
}

func (v *boundView) Transfer(asset, to common.Address, amount *big.Int) error {
	v.bank.mu.Lock()
	defer v.bank.mu.Unlock()
	return v.bank.move(asset, v.holder, to, amount)
}

func (v *boundView) TransferFrom(asset, from, to common.Address, amount *big.Int) error {
	v.bank.mu.Lock()
	defer v.bank.mu.Unlock()

	if amount == nil || amount.Sign() < 0 {
		return errors.NewValidationError("amount", "amount must be non-negative", amount)
	}
	key := allowanceKey{asset, from, v.holder}
	allowed := v.bank.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		have := "0"
		if allowed != nil {
			have = allowed.String()
		}
		return errors.NewInsufficientFundsError("allowance", amount.String(), have)
	}
	if err := v.bank.move(asset, from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (v *boundView) BalanceOf(asset, owner common.Address) *big.Int {
	return v.bank.BalanceOf(asset, owner)
}
