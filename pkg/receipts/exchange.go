// Package receipts implements the usage-receipt exchange: nodes record
// sessions they served, clients confirm or reject them, and confirmed
// receipts are redeemed against the usage ledger for payout.
package receipts

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// Status is the lifecycle state of a receipt. Rejected and Paid are terminal.
type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRejected
	StatusPaid
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	case StatusPaid:
		return "paid"
	default:
		return "unknown"
	}
}

// Receipt is one recorded service session, keyed by (client, nonce).
type Receipt struct {
	Client common.Address
	Node   common.Address
	Units  uint64
	Kind   contracts.AssetKind
	Asset  common.Address
	Nonce  uint64
	Status Status
}

type receiptKey struct {
	client common.Address
	nonce  uint64
}

// Exchange tracks session receipts and redeems confirmed ones through the
// settler. Its instance address must be configured as the settler's exchange
// for redemption to succeed.
type Exchange struct {
	guard  runtime.Guard
	mu     sync.Mutex
	logger *logging.ColoredLogger
	audit  contracts.AuditRecorder

	admin    common.Address
	self     common.Address
	registry contracts.MembershipRegistry
	settler  contracts.Settler

	receipts map[receiptKey]*Receipt
	nonces   map[common.Address]uint64

	// Confirmed receipts kept enumerable with O(1) insert and remove.
	confirmedList  []receiptKey
	confirmedIndex map[receiptKey]int
}

// New creates a receipt exchange bound to a membership registry. The settler
// is wired afterwards with SetSettler.
func New(admin, self common.Address, registry contracts.MembershipRegistry,
	audit contracts.AuditRecorder, logger *logging.ColoredLogger) (*Exchange, error) {

	if admin == (common.Address{}) {
		return nil, errors.NewConfigurationError("admin", "admin address must not be zero")
	}
	if self == (common.Address{}) {
		return nil, errors.NewConfigurationError("self", "instance address must not be zero")
	}
	if registry == nil {
		return nil, errors.NewConfigurationError("registry", "membership registry required")
	}
	return &Exchange{
		logger:         logger,
		audit:          audit,
		admin:          admin,
		self:           self,
		registry:       registry,
		receipts:       make(map[receiptKey]*Receipt),
		nonces:         make(map[common.Address]uint64),
		confirmedIndex: make(map[receiptKey]int),
	}, nil
}

// Self returns the exchange's instance address, the identity it settles under.
func (e *Exchange) Self() common.Address {
	return e.self
}

// SetSettler wires the usage ledger that redemption settles against.
// Admin only.
func (e *Exchange) SetSettler(call runtime.Call, settler contracts.Settler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if call.Caller != e.admin {
		return errors.NewAuthorizationError("setSettler", "admin")
	}
	if settler == nil {
		return errors.NewConfigurationError("settler", "settler required")
	}
	e.settler = settler
	return nil
}

// CreateSessionReceipt records a served session as a pending receipt. The
// caller must be an active node and the nonce the client's next expected
// value; the client's nonce advances on success.
func (e *Exchange) CreateSessionReceipt(call runtime.Call, client common.Address,
	units uint64, kind contracts.AssetKind, asset common.Address, nonce uint64) error {

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.registry.IsActive(call.Caller) {
		return errors.NewAuthorizationError("createSessionReceipt", "active node")
	}
	if units == 0 {
		return errors.NewValidationError("units", "units must be positive", units)
	}
	if !kind.Matches(asset) {
		return errors.NewValidationError("assetKind", "asset kind does not match asset", kind.String())
	}
	expected := e.nonces[client]
	if nonce != expected {
		return errors.NewReplayError(expected, nonce)
	}

	key := receiptKey{client: client, nonce: nonce}
	e.receipts[key] = &Receipt{
		Client: client,
		Node:   call.Caller,
		Units:  units,
		Kind:   kind,
		Asset:  asset,
		Nonce:  nonce,
		Status: StatusPending,
	}
	e.nonces[client] = nonce + 1

	e.log("receipt created",
		zap.String("node", call.Caller.Hex()),
		zap.String("client", client.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("units", units),
	)
	return nil
}

// ConfirmSessionReceipt marks the caller's pending receipt as confirmed,
// making it redeemable.
func (e *Exchange) ConfirmSessionReceipt(call runtime.Call, nonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := receiptKey{client: call.Caller, nonce: nonce}
	r := e.receipts[key]
	if r == nil {
		return errors.NewNotFoundError("receipt", key.client.Hex())
	}
	if r.Status != StatusPending {
		return errors.NewInvalidStateError("receipt", r.Status.String(), StatusPending.String())
	}
	r.Status = StatusConfirmed
	e.confirmedIndex[key] = len(e.confirmedList)
	e.confirmedList = append(e.confirmedList, key)
	return nil
}

// RejectSessionReceipt terminally rejects the caller's pending receipt.
func (e *Exchange) RejectSessionReceipt(call runtime.Call, nonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := receiptKey{client: call.Caller, nonce: nonce}
	r := e.receipts[key]
	if r == nil {
		return errors.NewNotFoundError("receipt", key.client.Hex())
	}
	if r.Status != StatusPending {
		return errors.NewInvalidStateError("receipt", r.Status.String(), StatusPending.String())
	}
	r.Status = StatusRejected
	return nil
}

// RedeemReceipt settles a confirmed receipt to the node that recorded it.
// Settlement and the transition to paid happen as one unit: if settlement
// fails the receipt stays confirmed and redeemable.
func (e *Exchange) RedeemReceipt(call runtime.Call, client common.Address, nonce uint64) error {
	if !e.guard.Enter() {
		return errors.NewInvalidStateError("exchange", "executing", "idle")
	}
	defer e.guard.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	key := receiptKey{client: client, nonce: nonce}
	r := e.receipts[key]
	if r == nil {
		return errors.NewNotFoundError("receipt", client.Hex())
	}
	if call.Caller != r.Node {
		return errors.NewAuthorizationError("redeemReceipt", "recording node")
	}
	if r.Status != StatusConfirmed {
		return errors.NewInvalidStateError("receipt", r.Status.String(), StatusConfirmed.String())
	}
	if e.settler == nil {
		return errors.NewConfigurationError("settler", "settler not configured")
	}

	settleCall := runtime.NewCall(e.self, call.Now)
	if err := e.settler.SettleUsage(settleCall, r.Client, r.Node, r.Asset, r.Units); err != nil {
		return err
	}

	r.Status = StatusPaid
	e.removeConfirmed(key)

	e.record(call, r)
	e.log("receipt redeemed",
		zap.String("node", r.Node.Hex()),
		zap.String("client", r.Client.Hex()),
		zap.Uint64("nonce", r.Nonce),
		zap.Uint64("units", r.Units),
	)
	return nil
}

// Receipt returns a copy of the receipt for (client, nonce).
func (e *Exchange) Receipt(client common.Address, nonce uint64) (Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.receipts[receiptKey{client: client, nonce: nonce}]
	if r == nil {
		return Receipt{}, false
	}
	return *r, true
}

// NextNonce returns the client's next expected receipt nonce.
func (e *Exchange) NextNonce(client common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces[client]
}

// Confirmed returns copies of all currently confirmed receipts.
func (e *Exchange) Confirmed() []Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Receipt, 0, len(e.confirmedList))
	for _, key := range e.confirmedList {
		out = append(out, *e.receipts[key])
	}
	return out
}

// ConfirmedCount returns the number of confirmed, unredeemed receipts.
func (e *Exchange) ConfirmedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.confirmedList)
}

// removeConfirmed deletes a key from the confirmed set, swap-with-last.
func (e *Exchange) removeConfirmed(key receiptKey) {
	idx, ok := e.confirmedIndex[key]
	if !ok {
		return
	}
	last := len(e.confirmedList) - 1
	if idx != last {
		moved := e.confirmedList[last]
		e.confirmedList[idx] = moved
		e.confirmedIndex[moved] = idx
	}
	e.confirmedList = e.confirmedList[:last]
	delete(e.confirmedIndex, key)
}

func (e *Exchange) record(call runtime.Call, r *Receipt) {
	if e.audit == nil {
		return
	}
	entry := contracts.AuditEntry{
		At:           call.Now,
		Component:    "receipts",
		Op:           "redeem",
		Actor:        r.Node,
		Counterparty: r.Client,
		Asset:        r.Asset,
		Delta:        new(big.Int).SetUint64(r.Units),
		Memo:         "receipt nonce " + new(big.Int).SetUint64(r.Nonce).String(),
	}
	if err := e.audit.Record(entry); err != nil && e.logger != nil {
		e.logger.ComponentError(logging.ComponentReceipt, "audit record failed", zap.Error(err))
	}
}

func (e *Exchange) log(msg string, fields ...zap.Field) {
	if e.logger != nil {
		e.logger.ComponentInfo(logging.ComponentReceipt, msg, fields...)
	}
}
