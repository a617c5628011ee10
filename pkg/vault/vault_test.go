package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/tokens"
)

var (
	admin     = common.HexToAddress("0xad000000000000000000000000000000000000ad")
	operator  = common.HexToAddress("0x0e000000000000000000000000000000000000e0")
	vaultSelf = common.HexToAddress("0x5e1f000000000000000000000000000000000001")
	alice     = common.HexToAddress("0xa11c000000000000000000000000000000000001")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	token     = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

var t0 = time.Unix(1_700_000_000, 0)

func call(who common.Address, at time.Time) runtime.Call {
	return runtime.NewCall(who, at)
}

func valueCall(who common.Address, value int64, at time.Time) runtime.Call {
	return runtime.NewValueCall(who, big.NewInt(value), at)
}

func setup(t *testing.T) (*tokens.Bank, *Vault) {
	t.Helper()
	bank := tokens.NewBank()
	v, err := New(admin, vaultSelf, bank.For(vaultSelf), 0, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.SetOperator(call(admin, t0), operator); err != nil {
		t.Fatalf("SetOperator failed: %v", err)
	}
	return bank, v
}

func TestDeposit(t *testing.T) {
	t.Run("native requires exact attached value", func(t *testing.T) {
		_, v := setup(t)
		if err := v.Deposit(valueCall(alice, 100, t0), contracts.NativeAsset, big.NewInt(100)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if got := v.Balance(alice, contracts.NativeAsset); got.Int64() != 100 {
			t.Errorf("Expected balance 100, got %s", got)
		}

		err := v.Deposit(valueCall(alice, 99, t0), contracts.NativeAsset, big.NewInt(100))
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error for value mismatch, got %v", err)
		}
	})

	t.Run("token pulls allowance", func(t *testing.T) {
		bank, v := setup(t)
		bank.Mint(token, alice, big.NewInt(500))
		bank.Approve(alice, vaultSelf, token, big.NewInt(200))

		if err := v.Deposit(call(alice, t0), token, big.NewInt(200)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if got := v.Balance(alice, token); got.Int64() != 200 {
			t.Errorf("Expected balance 200, got %s", got)
		}
		if got := bank.BalanceOf(token, vaultSelf); got.Int64() != 200 {
			t.Errorf("Expected custody balance 200, got %s", got)
		}

		// Allowance exhausted: further pulls fail and credit nothing.
		err := v.Deposit(call(alice, t0), token, big.NewInt(1))
		if !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected insufficient allowance, got %v", err)
		}
		if got := v.Balance(alice, token); got.Int64() != 200 {
			t.Errorf("Balance must be unchanged, got %s", got)
		}
	})

	t.Run("token deposit rejects attached native value", func(t *testing.T) {
		bank, v := setup(t)
		bank.Mint(token, alice, big.NewInt(500))
		bank.Approve(alice, vaultSelf, token, big.NewInt(200))
		err := v.Deposit(valueCall(alice, 1, t0), token, big.NewInt(100))
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		_, v := setup(t)
		if err := v.Deposit(call(alice, t0), token, big.NewInt(0)); !errors.IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("releases funds", func(t *testing.T) {
		bank, v := setup(t)
		bank.Mint(contracts.NativeAsset, vaultSelf, big.NewInt(100))
		if err := v.Deposit(valueCall(alice, 100, t0), contracts.NativeAsset, big.NewInt(100)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if err := v.Withdraw(call(alice, t0), contracts.NativeAsset, big.NewInt(60)); err != nil {
			t.Fatalf("Withdraw failed: %v", err)
		}
		if got := v.Balance(alice, contracts.NativeAsset); got.Int64() != 40 {
			t.Errorf("Expected balance 40, got %s", got)
		}
		if got := bank.BalanceOf(contracts.NativeAsset, alice); got.Int64() != 60 {
			t.Errorf("Expected released funds 60, got %s", got)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		_, v := setup(t)
		err := v.Withdraw(call(alice, t0), contracts.NativeAsset, big.NewInt(1))
		if !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected insufficient funds, got %v", err)
		}
	})

	t.Run("failed release reverts debit", func(t *testing.T) {
		bank, v := setup(t)
		bank.Mint(contracts.NativeAsset, vaultSelf, big.NewInt(100))
		if err := v.Deposit(valueCall(alice, 100, t0), contracts.NativeAsset, big.NewInt(100)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		bank.BlockRecipient(alice, true)

		err := v.Withdraw(call(alice, t0), contracts.NativeAsset, big.NewInt(60))
		if !errors.IsTransferFailure(err) {
			t.Fatalf("Expected transfer failure, got %v", err)
		}
		if got := v.Balance(alice, contracts.NativeAsset); got.Int64() != 100 {
			t.Errorf("Failed payout must revert the debit, balance %s", got)
		}
	})
}

func TestTransfer(t *testing.T) {
	fund := func(t *testing.T) (*tokens.Bank, *Vault) {
		t.Helper()
		bank, v := setup(t)
		if err := v.Deposit(valueCall(alice, 1000, t0), contracts.NativeAsset, big.NewInt(1000)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		return bank, v
	}

	t.Run("operator moves funds", func(t *testing.T) {
		_, v := fund(t)
		if err := v.Transfer(call(operator, t0), alice, bob, contracts.NativeAsset, big.NewInt(300)); err != nil {
			t.Fatalf("Transfer failed: %v", err)
		}
		if got := v.Balance(alice, contracts.NativeAsset); got.Int64() != 700 {
			t.Errorf("Expected source balance 700, got %s", got)
		}
		if got := v.Balance(bob, contracts.NativeAsset); got.Int64() != 300 {
			t.Errorf("Expected destination balance 300, got %s", got)
		}
	})

	t.Run("non-operator rejected", func(t *testing.T) {
		_, v := fund(t)
		err := v.Transfer(call(alice, t0), alice, bob, contracts.NativeAsset, big.NewInt(1))
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error, got %v", err)
		}
	})
}

func TestSpendingLimit(t *testing.T) {
	// Scenario: maxPerSession = 10, maxPerPeriod = 30, period = 24h.
	fund := func(t *testing.T) *Vault {
		t.Helper()
		_, v := setup(t)
		if err := v.Deposit(valueCall(alice, 1000, t0), contracts.NativeAsset, big.NewInt(1000)); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if err := v.SetLimit(call(alice, t0), big.NewInt(10), big.NewInt(30), 24*time.Hour); err != nil {
			t.Fatalf("SetLimit failed: %v", err)
		}
		return v
	}

	transfer := func(v *Vault, at time.Time, amount int64) error {
		return v.Transfer(call(operator, at), alice, bob, contracts.NativeAsset, big.NewInt(amount))
	}

	t.Run("session limit", func(t *testing.T) {
		v := fund(t)
		if err := transfer(v, t0, 11); !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected session limit violation, got %v", err)
		}
		if got := v.Balance(alice, contracts.NativeAsset); got.Int64() != 1000 {
			t.Errorf("Rejected transfer must not debit, balance %s", got)
		}
	})

	t.Run("period limit and window reset", func(t *testing.T) {
		v := fund(t)
		for i := 0; i < 3; i++ {
			if err := transfer(v, t0.Add(time.Duration(i)*time.Minute), 10); err != nil {
				t.Fatalf("Transfer %d failed: %v", i, err)
			}
		}
		// Fourth transfer of any positive amount in the same period fails.
		if err := transfer(v, t0.Add(4*time.Minute), 1); !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected period limit violation, got %v", err)
		}
		// After the period elapses the window resets and spending resumes.
		if err := transfer(v, t0.Add(24*time.Hour+time.Minute), 10); err != nil {
			t.Errorf("Transfer after window reset failed: %v", err)
		}
		limit, ok := v.Limit(alice)
		if !ok {
			t.Fatal("Expected limit present")
		}
		if limit.Spent().Int64() != 10 {
			t.Errorf("Expected fresh window spend 10, got %s", limit.Spent())
		}
	})

	t.Run("failed transfer leaves the window untouched", func(t *testing.T) {
		v := fund(t)
		for i := 0; i < 3; i++ {
			if err := transfer(v, t0.Add(time.Duration(i)*time.Minute), 10); err != nil {
				t.Fatalf("Transfer %d failed: %v", i, err)
			}
		}

		// A session-limit violation past the period boundary must not reset
		// the elapsed window as a side effect.
		late := t0.Add(25 * time.Hour)
		if err := transfer(v, late, 11); !errors.IsInsufficientFunds(err) {
			t.Fatalf("Expected session limit violation, got %v", err)
		}
		limit, ok := v.Limit(alice)
		if !ok {
			t.Fatal("Expected limit present")
		}
		if limit.Spent().Int64() != 30 {
			t.Errorf("Failed transfer must not reset the window, spent %s", limit.Spent())
		}

		// The reset still applies once a transfer goes through.
		if err := transfer(v, late, 10); err != nil {
			t.Fatalf("Transfer after boundary failed: %v", err)
		}
		limit, _ = v.Limit(alice)
		if limit.Spent().Int64() != 10 {
			t.Errorf("Expected fresh window spend 10, got %s", limit.Spent())
		}
	})

	t.Run("clear limit removes restriction", func(t *testing.T) {
		v := fund(t)
		if err := v.ClearLimit(call(alice, t0)); err != nil {
			t.Fatalf("ClearLimit failed: %v", err)
		}
		if err := transfer(v, t0, 500); err != nil {
			t.Errorf("Unrestricted transfer failed: %v", err)
		}
	})

	t.Run("set limit validation", func(t *testing.T) {
		v := fund(t)
		tests := []struct {
			name    string
			session int64
			period  int64
			window  time.Duration
		}{
			{"zero session", 0, 30, time.Hour},
			{"zero period", 10, 0, time.Hour},
			{"session above period", 40, 30, time.Hour},
			{"zero window", 10, 30, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := v.SetLimit(call(alice, t0), big.NewInt(tt.session), big.NewInt(tt.period), tt.window)
				if !errors.IsValidation(err) {
					t.Errorf("Expected validation error, got %v", err)
				}
			})
		}
	})
}
