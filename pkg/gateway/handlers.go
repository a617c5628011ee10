package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeBrosOfficial/settlement/pkg/billing"
	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/ledger"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.NewValidationError("body", "invalid request body", nil)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.NewValidationError(field,
			"invalid address", value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.NewValidationError(field,
			"expected a non-negative base-10 integer", value)
	}
	return amount, nil
}

func parseAssetKind(value string) (contracts.AssetKind, error) {
	switch value {
	case "native":
		return contracts.AssetKindNative, nil
	case "token":
		return contracts.AssetKindToken, nil
	default:
		return 0, errors.NewValidationError("asset_kind",
			"expected \"native\" or \"token\"", value)
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, errors.NewValidationError(field,
			"expected a positive duration, e.g. \"24h\"", value)
	}
	return d, nil
}

// call builds the execution context for the authenticated caller. value is
// the attached native payment, nil for none.
func (g *Gateway) call(r *http.Request, value *big.Int) (runtime.Call, error) {
	caller, ok := callerFrom(r)
	if !ok {
		return runtime.Call{}, errors.NewAuthorizationError("request", "signed caller")
	}
	if value != nil && value.Sign() > 0 {
		return runtime.NewValueCall(caller, value, g.now()), nil
	}
	return runtime.NewCall(caller, g.now()), nil
}

// attachedValue parses the optional "value" field of a payment request.
func attachedValue(value string) (*big.Int, error) {
	if value == "" {
		return nil, nil
	}
	return parseAmount("value", value)
}

// withValue delivers the call's attached native value from the caller's host
// balance into the component's custody, then runs op. A caller who cannot
// cover the claimed value is rejected before the component sees the call, and
// a failed op returns the value to the caller.
func (g *Gateway) withValue(call runtime.Call, custody common.Address, op func() error) error {
	value := call.AttachedValue()
	if value.Sign() > 0 {
		if g.comp.Funds == nil {
			return errors.NewConfigurationError("funds", "host balance backend not configured")
		}
		if err := g.comp.Funds.For(call.Caller).Transfer(contracts.NativeAsset, custody, value); err != nil {
			return err
		}
	}
	err := op()
	if err != nil && value.Sign() > 0 {
		_ = g.comp.Funds.For(custody).Transfer(contracts.NativeAsset, call.Caller, value)
	}
	return err
}

// --- registry ---

func (g *Gateway) handleActiveNodes(w http.ResponseWriter, r *http.Request) {
	active := g.comp.Registry.Active()
	nodes := make([]string, len(active))
	for i, addr := range active {
		nodes[i] = addr.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

func (g *Gateway) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr.Hex(),
		"active":  g.comp.Registry.IsActive(addr),
	})
}

func (g *Gateway) handleAddNodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nodes []string `json:"nodes"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	nodes := make([]common.Address, 0, len(req.Nodes))
	for i, raw := range req.Nodes {
		addr, err := parseAddress("nodes["+strconv.Itoa(i)+"]", raw)
		if err != nil {
			errors.WriteHTTPError(w, err, requestID(r))
			return
		}
		nodes = append(nodes, addr)
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Registry.Add(call, nodes...); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": len(nodes)})
}

func (g *Gateway) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Registry.Remove(call, addr); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- moderation ---

func (g *Gateway) handleReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Moderation.Report(call, target); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	resp := map[string]interface{}{
		"target":  target.Hex(),
		"reports": g.comp.Moderation.ReportCount(target),
	}
	if at, ok := g.comp.Moderation.PendingRemoval(target); ok {
		resp["removal_at"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleFinalizeRemoval(w http.ResponseWriter, r *http.Request) {
	target, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Moderation.FinalizeRemoval(call, target); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- vault ---

func (g *Gateway) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   owner.Hex(),
		"asset":   asset.Hex(),
		"balance": g.comp.Vault.Balance(owner, asset).String(),
	})
}

func (g *Gateway) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
		Value  string `json:"value,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	g.vaultMoney(w, r, req.Asset, req.Amount, req.Value,
		func(call runtime.Call, asset common.Address, amount *big.Int) error {
			return g.comp.Vault.Deposit(call, asset, amount)
		})
}

func (g *Gateway) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	g.vaultMoney(w, r, req.Asset, req.Amount, "",
		func(call runtime.Call, asset common.Address, amount *big.Int) error {
			return g.comp.Vault.Withdraw(call, asset, amount)
		})
}

func (g *Gateway) vaultMoney(w http.ResponseWriter, r *http.Request,
	rawAsset, rawAmount, rawValue string,
	op func(runtime.Call, common.Address, *big.Int) error) {

	asset, err := parseAddress("asset", rawAsset)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	amount, err := parseAmount("amount", rawAmount)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	value, err := attachedValue(rawValue)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.withValue(call, g.comp.Vault.Self(), func() error {
		return op(call, asset, amount)
	}); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":   asset.Hex(),
		"balance": g.comp.Vault.Balance(call.Caller, asset).String(),
	})
}

func (g *Gateway) handleVaultTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Vault.Transfer(call, from, to, asset, amount); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxPerSession string `json:"max_per_session"`
		MaxPerPeriod  string `json:"max_per_period"`
		Period        string `json:"period"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	session, err := parseAmount("max_per_session", req.MaxPerSession)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	period, err := parseAmount("max_per_period", req.MaxPerPeriod)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	window, err := parseDuration("period", req.Period)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Vault.SetLimit(call, session, period, window); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleClearLimit(w http.ResponseWriter, r *http.Request) {
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Vault.ClearLimit(call); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ledger ---

func (g *Gateway) handleLedgerAccount(w http.ResponseWriter, r *http.Request) {
	client, err := parseAddress("client", chi.URLParam(r, "client"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client":          client.Hex(),
		"purchased_units": g.comp.Ledger.PurchasedUnits(client),
		"free_units_used": g.comp.Ledger.FreeUnitsUsed(client),
		"next_nonce":      g.comp.Ledger.NextNonce(client),
	})
}

func (g *Gateway) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset string `json:"asset"`
		Units uint64 `json:"units"`
		Value string `json:"value,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	value, err := attachedValue(req.Value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.withValue(call, g.comp.Ledger.Self(), func() error {
		return g.comp.Ledger.Purchase(call, asset, req.Units)
	}); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchased_units": g.comp.Ledger.PurchasedUnits(call.Caller),
	})
}

type orderRequest struct {
	Client     string `json:"client"`
	AssetKind  string `json:"asset_kind"`
	Asset      string `json:"asset"`
	Units      uint64 `json:"units"`
	TotalPrice string `json:"total_price"`
	Nonce      uint64 `json:"nonce"`
}

func (o orderRequest) toOrder() (*ledger.UsageOrder, error) {
	client, err := parseAddress("order.client", o.Client)
	if err != nil {
		return nil, err
	}
	kind, err := parseAssetKind(o.AssetKind)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("order.asset", o.Asset)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount("order.total_price", o.TotalPrice)
	if err != nil {
		return nil, err
	}
	return &ledger.UsageOrder{
		Client:     client,
		Kind:       kind,
		Asset:      asset,
		Units:      o.Units,
		TotalPrice: price,
		Nonce:      o.Nonce,
	}, nil
}

func (g *Gateway) handlePurchaseWithOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order     orderRequest `json:"order"`
		Signature string       `json:"signature"`
		Value     string       `json:"value,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	value, err := attachedValue(req.Value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.withValue(call, g.comp.Ledger.Self(), func() error {
		return g.comp.Ledger.PurchaseWithOrder(call, order, sig)
	}); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchased_units": g.comp.Ledger.PurchasedUnits(call.Caller),
		"next_nonce":      g.comp.Ledger.NextNonce(call.Caller),
	})
}

func (g *Gateway) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Ledger.WithdrawFees(call, to); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- receipts ---

func (g *Gateway) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client    string `json:"client"`
		Units     uint64 `json:"units"`
		AssetKind string `json:"asset_kind"`
		Asset     string `json:"asset"`
		Nonce     uint64 `json:"nonce"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	client, err := parseAddress("client", req.Client)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	kind, err := parseAssetKind(req.AssetKind)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Exchange.CreateSessionReceipt(call, client, req.Units, kind, asset, req.Nonce); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"client": client.Hex(),
		"nonce":  req.Nonce,
	})
}

func (g *Gateway) receiptTransition(w http.ResponseWriter, r *http.Request,
	op func(runtime.Call, uint64) error) {

	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		errors.WriteHTTPError(w, errors.NewValidationError("nonce",
			"invalid nonce", chi.URLParam(r, "nonce")), requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := op(call, nonce); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	g.receiptTransition(w, r, g.comp.Exchange.ConfirmSessionReceipt)
}

func (g *Gateway) handleRejectReceipt(w http.ResponseWriter, r *http.Request) {
	g.receiptTransition(w, r, g.comp.Exchange.RejectSessionReceipt)
}

func (g *Gateway) handleRedeemReceipt(w http.ResponseWriter, r *http.Request) {
	client, err := parseAddress("client", chi.URLParam(r, "client"))
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		errors.WriteHTTPError(w, errors.NewValidationError("nonce",
			"invalid nonce", chi.URLParam(r, "nonce")), requestID(r))
		return
	}
	call, err := g.call(r, nil)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	if err := g.comp.Exchange.RedeemReceipt(call, client, nonce); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleConfirmedReceipts(w http.ResponseWriter, r *http.Request) {
	confirmed := g.comp.Exchange.Confirmed()
	out := make([]map[string]interface{}, 0, len(confirmed))
	for _, rc := range confirmed {
		out = append(out, map[string]interface{}{
			"client": rc.Client.Hex(),
			"node":   rc.Node.Hex(),
			"asset":  rc.Asset.Hex(),
			"units":  rc.Units,
			"nonce":  rc.Nonce,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": out,
		"count":    len(out),
	})
}

// --- billing ---

func (g *Gateway) handlePayBill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bill struct {
			Client     string `json:"client"`
			Node       string `json:"node"`
			AssetKind  string `json:"asset_kind"`
			Asset      string `json:"asset"`
			UnitPrice  string `json:"unit_price"`
			UsedAmount uint64 `json:"used_amount"`
			Nonce      uint64 `json:"nonce"`
		} `json:"bill"`
		Signature string `json:"signature"`
		Value     string `json:"value,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	client, err := parseAddress("bill.client", req.Bill.Client)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	node, err := parseAddress("bill.node", req.Bill.Node)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	kind, err := parseAssetKind(req.Bill.AssetKind)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	asset, err := parseAddress("bill.asset", req.Bill.Asset)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	price, err := parseAmount("bill.unit_price", req.Bill.UnitPrice)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	value, err := attachedValue(req.Value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	call, err := g.call(r, value)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	bill := &billing.Bill{
		Client:     client,
		Node:       node,
		Kind:       kind,
		Asset:      asset,
		UnitPrice:  price,
		UsedAmount: req.Bill.UsedAmount,
		Nonce:      req.Bill.Nonce,
	}
	if err := g.withValue(call, g.comp.Billing.Self(), func() error {
		return g.comp.Billing.PayBill(call, bill, sig)
	}); err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":      bill.Total().String(),
		"next_nonce": g.comp.Billing.NextNonce(client),
	})
}

// --- audit ---

func (g *Gateway) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			errors.WriteHTTPError(w, errors.NewValidationError("limit",
				"expected an integer between 1 and 1000", raw), requestID(r))
			return
		}
		limit = parsed
	}
	entries, err := g.comp.Audit.Recent(limit)
	if err != nil {
		errors.WriteHTTPError(w, err, requestID(r))
		return
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"id":           e.ID,
			"at":           e.At.UTC().Format(time.RFC3339Nano),
			"component":    e.Component,
			"op":           e.Op,
			"actor":        e.Actor.Hex(),
			"counterparty": e.Counterparty.Hex(),
			"asset":        e.Asset.Hex(),
			"delta":        e.Delta.String(),
			"memo":         e.Memo,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": out,
		"count":   len(out),
	})
}
