package gateway

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/DeBrosOfficial/settlement/pkg/audit"
	"github.com/DeBrosOfficial/settlement/pkg/billing"
	"github.com/DeBrosOfficial/settlement/pkg/config"
	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/ledger"
	"github.com/DeBrosOfficial/settlement/pkg/moderation"
	"github.com/DeBrosOfficial/settlement/pkg/receipts"
	"github.com/DeBrosOfficial/settlement/pkg/registry"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/tokens"
	"github.com/DeBrosOfficial/settlement/pkg/vault"
)

var (
	vaultSelf    = common.HexToAddress("0x5e1f000000000000000000000000000000000001")
	ledgerSelf   = common.HexToAddress("0x1ed0000000000000000000000000000000000001")
	exchangeSelf = common.HexToAddress("0xec000000000000000000000000000000000000c1")
	billingSelf  = common.HexToAddress("0xb111000000000000000000000000000000000001")
)

var t0 = time.Unix(1_700_000_000, 0)

type testEnv struct {
	bank    *tokens.Bank
	gateway *Gateway
	server  *httptest.Server

	adminKey  *ecdsa.PrivateKey
	admin     common.Address
	clientKey *ecdsa.PrivateKey
	client    common.Address
	nodeKey   *ecdsa.PrivateKey
	node      common.Address
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	adminKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	clientKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	nodeKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	admin := ethcrypto.PubkeyToAddress(adminKey.PublicKey)
	client := ethcrypto.PubkeyToAddress(clientKey.PublicKey)
	node := ethcrypto.PubkeyToAddress(nodeKey.PublicKey)

	// Custody starts empty. Callers hold host balances; attached value reaches
	// the components only through the gateway's collection leg.
	bank := tokens.NewBank()
	bank.Mint(contracts.NativeAsset, client, big.NewInt(1_000_000))
	bank.Mint(contracts.NativeAsset, admin, big.NewInt(1_000_000))

	adminCall := runtime.NewCall(admin, t0)

	reg, err := registry.New(admin, nil)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	if err := reg.Add(adminCall, node); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	modSelf := common.HexToAddress("0x0d000000000000000000000000000000000000d1")
	if err := reg.SetOperator(adminCall, modSelf); err != nil {
		t.Fatalf("SetOperator failed: %v", err)
	}
	mod, err := moderation.New(admin, modSelf, reg, 50, time.Hour, nil)
	if err != nil {
		t.Fatalf("moderation.New failed: %v", err)
	}

	v, err := vault.New(admin, vaultSelf, bank.For(vaultSelf), 0, nil, nil)
	if err != nil {
		t.Fatalf("vault.New failed: %v", err)
	}

	rec := audit.NewMemory()
	l, err := ledger.New(admin, ledgerSelf, reg, bank.For(ledgerSelf), rec, nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	if err := l.WhitelistAsset(adminCall, contracts.NativeAsset, big.NewInt(1)); err != nil {
		t.Fatalf("WhitelistAsset failed: %v", err)
	}
	if err := l.SetExchange(adminCall, exchangeSelf); err != nil {
		t.Fatalf("SetExchange failed: %v", err)
	}

	exch, err := receipts.New(admin, exchangeSelf, reg, rec, nil)
	if err != nil {
		t.Fatalf("receipts.New failed: %v", err)
	}
	if err := exch.SetSettler(adminCall, l); err != nil {
		t.Fatalf("SetSettler failed: %v", err)
	}

	bil, err := billing.New(billingSelf, reg, bank.For(billingSelf), rec, nil)
	if err != nil {
		t.Fatalf("billing.New failed: %v", err)
	}

	g, err := New(nil, &config.GatewayConfig{
		ListenAddr:     ":0",
		RequestTimeout: 5 * time.Second,
	}, Components{
		Registry:   reg,
		Moderation: mod,
		Vault:      v,
		Ledger:     l,
		Exchange:   exch,
		Billing:    bil,
		Audit:      rec,
		Funds:      bank,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	g.now = func() time.Time { return t0 }

	server := httptest.NewServer(g.Router())
	t.Cleanup(server.Close)

	return &testEnv{
		bank:      bank,
		gateway:   g,
		server:    server,
		adminKey:  adminKey,
		admin:     admin,
		clientKey: clientKey,
		client:    client,
		nodeKey:   nodeKey,
		node:      node,
	}
}

// post sends a signed JSON request and decodes the response body.
func (env *testEnv) post(t *testing.T, method, path string, key *ecdsa.PrivateKey, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != nil {
		addr, sig, err := SignRequest(body, key)
		if err != nil {
			t.Fatalf("SignRequest failed: %v", err)
		}
		req.Header.Set(HeaderAddress, addr)
		req.Header.Set(HeaderSignature, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (env *testEnv) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	status, body := env.get(t, "/health")
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("Unexpected health body: %v", body)
	}
}

func TestRequestAuthentication(t *testing.T) {
	env := newEnv(t)

	t.Run("missing signature rejected", func(t *testing.T) {
		status, _ := env.post(t, http.MethodPost, "/v1/ledger/purchases", nil, map[string]interface{}{
			"asset": contracts.NativeAsset.Hex(),
			"units": 10,
		})
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", status)
		}
	})

	t.Run("mismatched claimed address rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"asset": contracts.NativeAsset.Hex(),
			"units": 10,
			"value": "10",
		})
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/ledger/purchases", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest failed: %v", err)
		}
		_, sig, err := SignRequest(body, env.nodeKey)
		if err != nil {
			t.Fatalf("SignRequest failed: %v", err)
		}
		req.Header.Set(HeaderAddress, env.client.Hex())
		req.Header.Set(HeaderSignature, sig)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestPurchaseAndAccount(t *testing.T) {
	env := newEnv(t)

	status, body := env.post(t, http.MethodPost, "/v1/ledger/purchases", env.clientKey, map[string]interface{}{
		"asset": contracts.NativeAsset.Hex(),
		"units": 1000,
		"value": "1000",
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	if body["purchased_units"].(float64) != 1000 {
		t.Errorf("Expected 1000 purchased units, got %v", body["purchased_units"])
	}

	status, body = env.get(t, "/v1/ledger/accounts/"+env.client.Hex())
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if body["purchased_units"].(float64) != 1000 {
		t.Errorf("Unexpected account body: %v", body)
	}

	t.Run("value mismatch maps to 400 and refunds", func(t *testing.T) {
		before := env.bank.BalanceOf(contracts.NativeAsset, env.client)
		status, _ := env.post(t, http.MethodPost, "/v1/ledger/purchases", env.clientKey, map[string]interface{}{
			"asset": contracts.NativeAsset.Hex(),
			"units": 1000,
			"value": "999",
		})
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", status)
		}
		if got := env.bank.BalanceOf(contracts.NativeAsset, env.client); got.Cmp(before) != 0 {
			t.Errorf("Expected collected value returned, balance went %s -> %s", before, got)
		}
	})
}

func TestPurchaseValueIsCollected(t *testing.T) {
	env := newEnv(t)

	status, _ := env.post(t, http.MethodPost, "/v1/ledger/purchases", env.clientKey, map[string]interface{}{
		"asset": contracts.NativeAsset.Hex(),
		"units": 1000,
		"value": "1000",
	})
	if status != http.StatusOK {
		t.Fatalf("Purchase failed with %d", status)
	}
	if got := env.bank.BalanceOf(contracts.NativeAsset, env.client); got.Int64() != 999_000 {
		t.Errorf("Expected caller debited to 999000, got %s", got)
	}
	if got := env.bank.BalanceOf(contracts.NativeAsset, ledgerSelf); got.Int64() != 1000 {
		t.Errorf("Expected custody credited 1000, got %s", got)
	}

	t.Run("unfunded caller cannot claim value", func(t *testing.T) {
		brokeKey, err := ethcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		broke := ethcrypto.PubkeyToAddress(brokeKey.PublicKey)
		status, _ := env.post(t, http.MethodPost, "/v1/ledger/purchases", brokeKey, map[string]interface{}{
			"asset": contracts.NativeAsset.Hex(),
			"units": 1000,
			"value": "1000",
		})
		if status != http.StatusPaymentRequired {
			t.Errorf("Expected 402, got %d", status)
		}
		_, body := env.get(t, "/v1/ledger/accounts/"+broke.Hex())
		if body["purchased_units"].(float64) != 0 {
			t.Errorf("Expected no credited units, got %v", body["purchased_units"])
		}
	})
}

func TestReceiptFlow(t *testing.T) {
	env := newEnv(t)

	// Fund the client escrow first.
	status, _ := env.post(t, http.MethodPost, "/v1/ledger/purchases", env.clientKey, map[string]interface{}{
		"asset": contracts.NativeAsset.Hex(),
		"units": 5000,
		"value": "5000",
	})
	if status != http.StatusOK {
		t.Fatalf("Purchase failed with %d", status)
	}

	status, _ = env.post(t, http.MethodPost, "/v1/receipts/", env.nodeKey, map[string]interface{}{
		"client":     env.client.Hex(),
		"units":      3600,
		"asset_kind": "native",
		"asset":      contracts.NativeAsset.Hex(),
		"nonce":      0,
	})
	if status != http.StatusCreated {
		t.Fatalf("Create receipt failed with %d", status)
	}

	status, _ = env.post(t, http.MethodPost, "/v1/receipts/0/confirm", env.clientKey, nil)
	if status != http.StatusNoContent {
		t.Fatalf("Confirm failed with %d", status)
	}

	status, body := env.get(t, "/v1/receipts/confirmed")
	if status != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("Expected 1 confirmed receipt, got %d %v", status, body)
	}

	status, _ = env.post(t, http.MethodPost, "/v1/receipts/"+env.client.Hex()+"/0/redeem", env.nodeKey, nil)
	if status != http.StatusNoContent {
		t.Fatalf("Redeem failed with %d", status)
	}
	if got := env.bank.BalanceOf(contracts.NativeAsset, env.node); got.Int64() != 3600 {
		t.Errorf("Expected node payout 3600, got %s", got)
	}

	t.Run("second redeem maps to 409", func(t *testing.T) {
		status, _ := env.post(t, http.MethodPost, "/v1/receipts/"+env.client.Hex()+"/0/redeem", env.nodeKey, nil)
		if status != http.StatusConflict {
			t.Errorf("Expected 409, got %d", status)
		}
	})

	t.Run("audit trail recorded", func(t *testing.T) {
		status, body := env.get(t, "/v1/audit/recent")
		if status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", status)
		}
		if body["count"].(float64) < 2 {
			t.Errorf("Expected purchase and settle entries, got %v", body["count"])
		}
	})
}

func TestVaultEndpoints(t *testing.T) {
	env := newEnv(t)

	status, body := env.post(t, http.MethodPost, "/v1/vault/deposits", env.clientKey, map[string]interface{}{
		"asset":  contracts.NativeAsset.Hex(),
		"amount": "500",
		"value":  "500",
	})
	if status != http.StatusOK {
		t.Fatalf("Deposit failed with %d: %v", status, body)
	}
	if body["balance"] != "500" {
		t.Errorf("Expected balance 500, got %v", body["balance"])
	}

	status, body = env.get(t, "/v1/vault/balances/"+env.client.Hex()+"/"+contracts.NativeAsset.Hex())
	if status != http.StatusOK || body["balance"] != "500" {
		t.Fatalf("Unexpected balance response: %d %v", status, body)
	}

	t.Run("withdraw beyond balance maps to 402", func(t *testing.T) {
		status, _ := env.post(t, http.MethodPost, "/v1/vault/withdrawals", env.clientKey, map[string]interface{}{
			"asset":  contracts.NativeAsset.Hex(),
			"amount": "9999",
		})
		if status != http.StatusPaymentRequired {
			t.Errorf("Expected 402, got %d", status)
		}
	})

	t.Run("withdraw releases collected funds", func(t *testing.T) {
		status, body := env.post(t, http.MethodPost, "/v1/vault/withdrawals", env.clientKey, map[string]interface{}{
			"asset":  contracts.NativeAsset.Hex(),
			"amount": "300",
		})
		if status != http.StatusOK {
			t.Fatalf("Withdraw failed with %d: %v", status, body)
		}
		if body["balance"] != "200" {
			t.Errorf("Expected balance 200, got %v", body["balance"])
		}
		if got := env.bank.BalanceOf(contracts.NativeAsset, env.client); got.Int64() != 999_800 {
			t.Errorf("Expected host balance 999800, got %s", got)
		}
	})
}

func TestRegistryAndModerationEndpoints(t *testing.T) {
	env := newEnv(t)
	target := "0x2222222222222222222222222222222222222222"

	status, body := env.post(t, http.MethodPost, "/v1/registry/nodes", env.adminKey, map[string]interface{}{
		"nodes": []string{target},
	})
	if status != http.StatusOK {
		t.Fatalf("Add node failed with %d: %v", status, body)
	}

	status, body = env.get(t, "/v1/registry/nodes")
	if status != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("Expected 2 active nodes, got %d %v", status, body)
	}

	t.Run("non-admin cannot add nodes", func(t *testing.T) {
		status, _ := env.post(t, http.MethodPost, "/v1/registry/nodes", env.clientKey, map[string]interface{}{
			"nodes": []string{"0x3333333333333333333333333333333333333333"},
		})
		if status != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", status)
		}
	})

	status, body = env.post(t, http.MethodPost, "/v1/moderation/reports", env.nodeKey, map[string]interface{}{
		"target": target,
	})
	if status != http.StatusOK {
		t.Fatalf("Report failed with %d: %v", status, body)
	}
	if body["reports"].(float64) != 1 {
		t.Errorf("Expected 1 report, got %v", body["reports"])
	}
	// Two active nodes at 50 percent means one report meets quorum.
	if body["removal_at"] == nil {
		t.Error("Expected a scheduled removal")
	}

	t.Run("finalize before the delay maps to 409", func(t *testing.T) {
		status, _ := env.post(t, http.MethodPost, "/v1/moderation/removals/"+target+"/finalize", env.nodeKey, nil)
		if status != http.StatusConflict {
			t.Errorf("Expected 409, got %d", status)
		}
	})
}
