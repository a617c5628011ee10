package ledger

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/registry"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/tokens"
)

var (
	admin      = common.HexToAddress("0xad000000000000000000000000000000000000ad")
	ledgerSelf = common.HexToAddress("0x1ed0000000000000000000000000000000000001")
	exchange   = common.HexToAddress("0xec000000000000000000000000000000000000c1")
	alice      = common.HexToAddress("0xa11c000000000000000000000000000000000001")
	node       = common.HexToAddress("0x0de0000000000000000000000000000000000001")
	token      = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

var t0 = time.Unix(1_700_000_000, 0)

func call(who common.Address, at time.Time) runtime.Call {
	return runtime.NewCall(who, at)
}

func valueCall(who common.Address, value int64, at time.Time) runtime.Call {
	return runtime.NewValueCall(who, big.NewInt(value), at)
}

// setup builds a ledger with the native asset whitelisted at rate 1, the
// node registered active, and the exchange wired in.
func setup(t *testing.T) (*tokens.Bank, *Ledger) {
	t.Helper()
	bank := tokens.NewBank()
	reg, err := registry.New(admin, nil)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	if err := reg.Add(call(admin, t0), node); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	l, err := New(admin, ledgerSelf, reg, bank.For(ledgerSelf), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// The host collects attached native value into custody before dispatch;
	// seeding custody here stands in for that leg.
	bank.Mint(contracts.NativeAsset, ledgerSelf, big.NewInt(10_000_000))
	if err := l.WhitelistAsset(call(admin, t0), contracts.NativeAsset, big.NewInt(1)); err != nil {
		t.Fatalf("WhitelistAsset failed: %v", err)
	}
	if err := l.SetExchange(call(admin, t0), exchange); err != nil {
		t.Fatalf("SetExchange failed: %v", err)
	}
	return bank, l
}

func TestWhitelistAsset(t *testing.T) {
	_, l := setup(t)

	t.Run("rejects zero rate", func(t *testing.T) {
		err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(0))
		if !errors.IsConfiguration(err) {
			t.Errorf("Expected configuration error for zero rate, got %v", err)
		}
	})

	t.Run("admin only", func(t *testing.T) {
		err := l.WhitelistAsset(call(alice, t0), token, big.NewInt(2))
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error, got %v", err)
		}
	})

	t.Run("delist blocks purchases", func(t *testing.T) {
		if err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(2)); err != nil {
			t.Fatalf("WhitelistAsset failed: %v", err)
		}
		if err := l.DelistAsset(call(admin, t0), token); err != nil {
			t.Fatalf("DelistAsset failed: %v", err)
		}
		err := l.Purchase(call(alice, t0), token, 10)
		if !errors.IsConfiguration(err) {
			t.Errorf("Expected configuration error for delisted asset, got %v", err)
		}
	})
}

func TestPurchase(t *testing.T) {
	t.Run("native requires exact attached value", func(t *testing.T) {
		_, l := setup(t)
		if err := l.Purchase(valueCall(alice, 100, t0), contracts.NativeAsset, 100); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 100 {
			t.Errorf("Expected 100 purchased units, got %d", got)
		}
		if got := l.PoolBalance(contracts.NativeAsset); got.Int64() != 100 {
			t.Errorf("Expected native pool 100, got %s", got)
		}

		err := l.Purchase(valueCall(alice, 99, t0), contracts.NativeAsset, 100)
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error for value mismatch, got %v", err)
		}
	})

	t.Run("token pulls allowance and rejects attached value", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(3)); err != nil {
			t.Fatalf("WhitelistAsset failed: %v", err)
		}
		bank.Mint(token, alice, big.NewInt(500))
		bank.Approve(alice, ledgerSelf, token, big.NewInt(300))

		err := l.Purchase(valueCall(alice, 1, t0), token, 100)
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error for native value on token purchase, got %v", err)
		}

		if err := l.Purchase(call(alice, t0), token, 100); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 100 {
			t.Errorf("Expected 100 purchased units, got %d", got)
		}
		if got := bank.BalanceOf(token, ledgerSelf); got.Int64() != 300 {
			t.Errorf("Expected custody balance 300, got %s", got)
		}

		// Allowance exhausted now.
		err = l.Purchase(call(alice, t0), token, 1)
		if err == nil {
			t.Error("Expected allowance failure")
		}
		if got := l.PurchasedUnits(alice); got != 100 {
			t.Errorf("Failed purchase must not credit units, got %d", got)
		}
	})

	t.Run("zero units rejected", func(t *testing.T) {
		_, l := setup(t)
		err := l.Purchase(call(alice, t0), contracts.NativeAsset, 0)
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error for zero units, got %v", err)
		}
	})

	t.Run("rejected purchase keeps no payment", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(1)); err != nil {
			t.Fatalf("WhitelistAsset failed: %v", err)
		}
		max := new(big.Int).SetUint64(math.MaxUint64)
		bank.Mint(token, alice, max)
		bank.Approve(alice, ledgerSelf, token, max)
		if err := l.Purchase(call(alice, t0), token, math.MaxUint64); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		bank.Mint(token, alice, big.NewInt(10))
		bank.Approve(alice, ledgerSelf, token, big.NewInt(10))
		err := l.Purchase(call(alice, t0), token, 1)
		if !errors.IsValidation(err) {
			t.Fatalf("Expected validation error for unit overflow, got %v", err)
		}
		if got := bank.BalanceOf(token, alice); got.Int64() != 10 {
			t.Errorf("Rejected purchase must not keep the payment, balance %s", got)
		}
		if got := l.PurchasedUnits(alice); got != math.MaxUint64 {
			t.Errorf("Unexpected purchased units %d", got)
		}
	})
}

func TestSettleUsage(t *testing.T) {
	t.Run("free quota then charged units", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.SetDailyQuota(call(admin, t0), 500); err != nil {
			t.Fatalf("SetDailyQuota failed: %v", err)
		}
		if err := l.Purchase(valueCall(alice, 1_000_000, t0), contracts.NativeAsset, 1_000_000); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		if err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 1500); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 999_000 {
			t.Errorf("Expected 999000 purchased units left, got %d", got)
		}
		if got := l.FreeUnitsUsed(alice); got != 500 {
			t.Errorf("Expected 500 free units used, got %d", got)
		}
		if got := bank.BalanceOf(contracts.NativeAsset, node); got.Int64() != 1500 {
			t.Errorf("Expected node payout 1500, got %s", got)
		}
		if got := l.PoolBalance(contracts.NativeAsset); got.Int64() != 998_500 {
			t.Errorf("Expected pool 998500, got %s", got)
		}
	})

	t.Run("only the exchange may settle", func(t *testing.T) {
		_, l := setup(t)
		err := l.SettleUsage(call(alice, t0), alice, node, contracts.NativeAsset, 1)
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error, got %v", err)
		}
	})

	t.Run("inactive node rejected", func(t *testing.T) {
		_, l := setup(t)
		stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
		err := l.SettleUsage(call(exchange, t0), alice, stranger, contracts.NativeAsset, 1)
		if !errors.IsInvalidState(err) {
			t.Errorf("Expected invalid state error, got %v", err)
		}
	})

	t.Run("insufficient purchased units", func(t *testing.T) {
		_, l := setup(t)
		if err := l.Purchase(valueCall(alice, 10, t0), contracts.NativeAsset, 10); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 11)
		if !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected insufficient funds error, got %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 10 {
			t.Errorf("Failed settle must not change balance, got %d", got)
		}
	})

	t.Run("payout failure reverts everything", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.SetDailyQuota(call(admin, t0), 100); err != nil {
			t.Fatalf("SetDailyQuota failed: %v", err)
		}
		if err := l.Purchase(valueCall(alice, 1000, t0), contracts.NativeAsset, 1000); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		bank.BlockRecipient(node, true)

		err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 300)
		if !errors.IsTransferFailure(err) {
			t.Fatalf("Expected transfer failure error, got %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 1000 {
			t.Errorf("Expected units restored to 1000, got %d", got)
		}
		if got := l.FreeUnitsUsed(alice); got != 0 {
			t.Errorf("Expected free usage restored to 0, got %d", got)
		}
		if got := l.PoolBalance(contracts.NativeAsset); got.Int64() != 1000 {
			t.Errorf("Expected pool restored to 1000, got %s", got)
		}

		bank.BlockRecipient(node, false)
		if err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 300); err != nil {
			t.Fatalf("SettleUsage after unblock failed: %v", err)
		}
	})

	t.Run("quota window resets after a day", func(t *testing.T) {
		_, l := setup(t)
		if err := l.SetDailyQuota(call(admin, t0), 50); err != nil {
			t.Fatalf("SetDailyQuota failed: %v", err)
		}
		if err := l.Purchase(valueCall(alice, 1000, t0), contracts.NativeAsset, 1000); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		if err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 50); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		if got := l.FreeUnitsUsed(alice); got != 50 {
			t.Errorf("Expected quota exhausted at 50, got %d", got)
		}

		// Just before the window boundary the quota stays exhausted.
		almost := t0.Add(DailyQuotaWindow - time.Second)
		if err := l.SettleUsage(call(exchange, almost), alice, node, contracts.NativeAsset, 10); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 990 {
			t.Errorf("Expected all 10 units charged before reset, got %d remaining", got)
		}

		next := t0.Add(DailyQuotaWindow)
		if err := l.SettleUsage(call(exchange, next), alice, node, contracts.NativeAsset, 30); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		if got := l.FreeUnitsUsed(alice); got != 30 {
			t.Errorf("Expected fresh window with 30 free used, got %d", got)
		}
		if got := l.PurchasedUnits(alice); got != 990 {
			t.Errorf("Expected no charged units after reset, got %d remaining", got)
		}
	})

	t.Run("token settlement pays free units in native", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(2)); err != nil {
			t.Fatalf("WhitelistAsset failed: %v", err)
		}
		if err := l.SetDailyQuota(call(admin, t0), 100); err != nil {
			t.Fatalf("SetDailyQuota failed: %v", err)
		}
		// Native pool funds the free-quota payout.
		if err := l.Purchase(valueCall(alice, 200, t0), contracts.NativeAsset, 200); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		bank.Mint(token, alice, big.NewInt(1000))
		bank.Approve(alice, ledgerSelf, token, big.NewInt(1000))
		if err := l.Purchase(call(alice, t0), token, 500); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		if err := l.SettleUsage(call(exchange, t0), alice, node, token, 150); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		// 100 free units at native rate 1, 50 charged units at token rate 2.
		if got := bank.BalanceOf(token, node); got.Int64() != 100 {
			t.Errorf("Expected 100 token payout, got %s", got)
		}
		if got := bank.BalanceOf(contracts.NativeAsset, node); got.Int64() != 100 {
			t.Errorf("Expected 100 native payout for free units, got %s", got)
		}
		if got := l.PurchasedUnits(alice); got != 650 {
			t.Errorf("Expected 650 units remaining, got %d", got)
		}
	})

	t.Run("quota-covered settlement needs no asset pool", func(t *testing.T) {
		bank, l := setup(t)
		if err := l.WhitelistAsset(call(admin, t0), token, big.NewInt(2)); err != nil {
			t.Fatalf("WhitelistAsset failed: %v", err)
		}
		if err := l.SetDailyQuota(call(admin, t0), 500); err != nil {
			t.Fatalf("SetDailyQuota failed: %v", err)
		}
		// Only the native pool is funded; no one ever purchased the token.
		if err := l.Purchase(valueCall(alice, 1000, t0), contracts.NativeAsset, 1000); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		if err := l.SettleUsage(call(exchange, t0), alice, node, token, 100); err != nil {
			t.Fatalf("SettleUsage within the free quota failed: %v", err)
		}
		if got := l.FreeUnitsUsed(alice); got != 100 {
			t.Errorf("Expected 100 free units used, got %d", got)
		}
		if got := l.PurchasedUnits(alice); got != 1000 {
			t.Errorf("Expected purchased units untouched, got %d", got)
		}
		if got := bank.BalanceOf(contracts.NativeAsset, node); got.Int64() != 100 {
			t.Errorf("Expected 100 native payout for free units, got %s", got)
		}
		if got := bank.BalanceOf(token, node); got.Sign() != 0 {
			t.Errorf("Expected no token payout, got %s", got)
		}
	})
}

func TestMaintenanceFee(t *testing.T) {
	_, l := setup(t)
	if err := l.SetMaintenanceFee(call(admin, t0), 100, time.Hour); err != nil {
		t.Fatalf("SetMaintenanceFee failed: %v", err)
	}
	if err := l.Purchase(valueCall(alice, 1000, t0), contracts.NativeAsset, 1000); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	// First settle starts the fee clock without charging.
	if err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 10); err != nil {
		t.Fatalf("SettleUsage failed: %v", err)
	}
	if got := l.PurchasedUnits(alice); got != 990 {
		t.Errorf("Expected 990 units after first settle, got %d", got)
	}

	// Several periods overdue still charges a single fee.
	late := t0.Add(3 * time.Hour)
	if err := l.SettleUsage(call(exchange, late), alice, node, contracts.NativeAsset, 10); err != nil {
		t.Fatalf("SettleUsage failed: %v", err)
	}
	if got := l.PurchasedUnits(alice); got != 880 {
		t.Errorf("Expected 880 units after one fee plus usage, got %d", got)
	}
	if got := l.AccruedFeeUnits(); got != 100 {
		t.Errorf("Expected 100 accrued fee units, got %d", got)
	}

	t.Run("withdraw fees sweeps native pool", func(t *testing.T) {
		sink := common.HexToAddress("0xfee0000000000000000000000000000000000001")
		if err := l.WithdrawFees(call(admin, late), sink); err != nil {
			t.Fatalf("WithdrawFees failed: %v", err)
		}
		if got := l.AccruedFeeUnits(); got != 0 {
			t.Errorf("Expected accrued fees cleared, got %d", got)
		}
		err := l.WithdrawFees(call(admin, late), sink)
		if !errors.IsInvalidState(err) {
			t.Errorf("Expected invalid state on empty accrual, got %v", err)
		}
	})

	t.Run("fee exceeding balance fails the settle", func(t *testing.T) {
		_, l := setup(t)
		if err := l.SetMaintenanceFee(call(admin, t0), 100, time.Hour); err != nil {
			t.Fatalf("SetMaintenanceFee failed: %v", err)
		}
		if err := l.Purchase(valueCall(alice, 50, t0), contracts.NativeAsset, 50); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		if err := l.SettleUsage(call(exchange, t0), alice, node, contracts.NativeAsset, 10); err != nil {
			t.Fatalf("SettleUsage failed: %v", err)
		}
		err := l.SettleUsage(call(exchange, t0.Add(2*time.Hour)), alice, node, contracts.NativeAsset, 10)
		if !errors.IsInsufficientFunds(err) {
			t.Errorf("Expected insufficient funds for fee, got %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 40 {
			t.Errorf("Failed fee charge must not change balance, got %d", got)
		}
	})
}

func TestPurchaseWithOrder(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	authority := ethcrypto.PubkeyToAddress(key.PublicKey)

	newLedger := func(t *testing.T) *Ledger {
		t.Helper()
		_, l := setup(t)
		if err := l.SetAuthority(call(admin, t0), authority); err != nil {
			t.Fatalf("SetAuthority failed: %v", err)
		}
		return l
	}

	order := func(nonce uint64) *UsageOrder {
		return &UsageOrder{
			Client:     alice,
			Kind:       contracts.AssetKindNative,
			Asset:      contracts.NativeAsset,
			Units:      100,
			TotalPrice: big.NewInt(100),
			Nonce:      nonce,
		}
	}

	t.Run("valid order advances nonce", func(t *testing.T) {
		l := newLedger(t)
		o := order(0)
		sig, err := SignOrder(l.Domain(), o, key)
		if err != nil {
			t.Fatalf("SignOrder failed: %v", err)
		}
		if err := l.PurchaseWithOrder(valueCall(alice, 100, t0), o, sig); err != nil {
			t.Fatalf("PurchaseWithOrder failed: %v", err)
		}
		if got := l.PurchasedUnits(alice); got != 100 {
			t.Errorf("Expected 100 units, got %d", got)
		}
		if got := l.NextNonce(alice); got != 1 {
			t.Errorf("Expected nonce 1, got %d", got)
		}

		// Same order again replays.
		err = l.PurchaseWithOrder(valueCall(alice, 100, t0), o, sig)
		if !errors.IsReplay(err) {
			t.Errorf("Expected replay error, got %v", err)
		}
	})

	t.Run("wrong signer rejected", func(t *testing.T) {
		l := newLedger(t)
		other, err := ethcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		o := order(0)
		sig, err := SignOrder(l.Domain(), o, other)
		if err != nil {
			t.Fatalf("SignOrder failed: %v", err)
		}
		err = l.PurchaseWithOrder(valueCall(alice, 100, t0), o, sig)
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error for wrong signer, got %v", err)
		}
		if got := l.NextNonce(alice); got != 0 {
			t.Errorf("Failed order must not advance nonce, got %d", got)
		}
	})

	t.Run("tampered order rejected", func(t *testing.T) {
		l := newLedger(t)
		o := order(0)
		sig, err := SignOrder(l.Domain(), o, key)
		if err != nil {
			t.Fatalf("SignOrder failed: %v", err)
		}
		o.Units = 1000
		o.TotalPrice = big.NewInt(1000)
		err = l.PurchaseWithOrder(valueCall(alice, 1000, t0), o, sig)
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error for tampered order, got %v", err)
		}
	})

	t.Run("caller must be the order client", func(t *testing.T) {
		l := newLedger(t)
		o := order(0)
		sig, err := SignOrder(l.Domain(), o, key)
		if err != nil {
			t.Fatalf("SignOrder failed: %v", err)
		}
		bob := common.HexToAddress("0xb0b0000000000000000000000000000000000002")
		err = l.PurchaseWithOrder(valueCall(bob, 100, t0), o, sig)
		if !errors.IsAuthorization(err) {
			t.Errorf("Expected authorization error for wrong caller, got %v", err)
		}
	})

	t.Run("price mismatch rejected", func(t *testing.T) {
		l := newLedger(t)
		o := order(0)
		o.TotalPrice = big.NewInt(99)
		sig, err := SignOrder(l.Domain(), o, key)
		if err != nil {
			t.Fatalf("SignOrder failed: %v", err)
		}
		err = l.PurchaseWithOrder(valueCall(alice, 99, t0), o, sig)
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error for price mismatch, got %v", err)
		}
	})
}
