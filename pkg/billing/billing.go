// Package billing implements pay-per-transaction settlement that bypasses
// escrow: a client pays a node-signed bill directly in a single call.
package billing

import (
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
	"github.com/DeBrosOfficial/settlement/pkg/typeddata"
)

// DomainName and DomainVersion scope bill signatures to this component.
const (
	DomainName    = "BillingAuthorization"
	DomainVersion = "1"
)

// Authorization verifies node-signed bills and moves the payment directly
// from the paying client to the node.
type Authorization struct {
	guard  runtime.Guard
	mu     sync.Mutex
	logger *logging.ColoredLogger
	audit  contracts.AuditRecorder

	self     common.Address
	registry contracts.MembershipRegistry
	backend  contracts.TokenBackend
	domain   typeddata.Domain

	nonces map[common.Address]uint64
}

// New creates a billing authorization instance. self is the custody identity
// token allowances are granted to and the instance address in the signature
// domain.
func New(self common.Address, registry contracts.MembershipRegistry,
	backend contracts.TokenBackend, audit contracts.AuditRecorder,
	logger *logging.ColoredLogger) (*Authorization, error) {

	if self == (common.Address{}) {
		return nil, errors.NewConfigurationError("self", "instance address must not be zero")
	}
	if registry == nil {
		return nil, errors.NewConfigurationError("registry", "membership registry required")
	}
	if backend == nil {
		return nil, errors.NewConfigurationError("backend", "token backend required")
	}
	return &Authorization{
		logger:   logger,
		audit:    audit,
		self:     self,
		registry: registry,
		backend:  backend,
		domain:   typeddata.Domain{Name: DomainName, Version: DomainVersion, Instance: self},
		nonces:   make(map[common.Address]uint64),
	}, nil
}

// Domain returns the signature domain for bills against this instance.
func (a *Authorization) Domain() typeddata.Domain {
	return a.domain
}

// Self returns the instance's custody address.
func (a *Authorization) Self() common.Address {
	return a.self
}

// PayBill verifies the node's signature over the bill and pays the node in
// the same call. The caller must be the billed client and the bill must carry
// the client's next expected nonce, which advances on success. Any mutation
// of the signed fields changes the recovered signer and is rejected.
func (a *Authorization) PayBill(call runtime.Call, bill *Bill, sig []byte) error {
	if !a.guard.Enter() {
		return errors.NewInvalidStateError("billing", "executing", "idle")
	}
	defer a.guard.Exit()
	a.mu.Lock()
	defer a.mu.Unlock()

	if bill == nil {
		return errors.NewValidationError("bill", "bill required", nil)
	}
	if call.Caller != bill.Client {
		return errors.NewAuthorizationError("payBill", "billed client")
	}
	if !a.registry.IsActive(bill.Node) {
		return errors.NewInvalidStateError("node "+bill.Node.Hex(), "not active", "active")
	}
	if !bill.Kind.Matches(bill.Asset) {
		return errors.NewValidationError("assetKind", "asset kind does not match asset", bill.Kind.String())
	}
	if bill.UnitPrice == nil || bill.UnitPrice.Sign() <= 0 {
		return errors.NewValidationError("unitPrice", "unit price must be positive", nil)
	}
	if bill.UsedAmount == 0 {
		return errors.NewValidationError("usedAmount", "used amount must be positive", bill.UsedAmount)
	}
	expected := a.nonces[bill.Client]
	if bill.Nonce != expected {
		return errors.NewReplayError(expected, bill.Nonce)
	}

	signer, err := typeddata.Recover(bill.Digest(a.domain), sig)
	if err != nil {
		return err
	}
	if signer != bill.Node {
		return errors.NewAuthorizationError("payBill", "node signature")
	}

	total := bill.Total()
	var journal runtime.Journal
	a.nonces[bill.Client] = expected + 1
	journal.Record(func() { a.nonces[bill.Client] = expected })

	if bill.Asset == contracts.NativeAsset {
		if call.AttachedValue().Cmp(total) != 0 {
			journal.Revert()
			return errors.NewValidationError("value",
				"attached value must equal the bill total", call.AttachedValue().String())
		}
		if err := a.backend.Transfer(contracts.NativeAsset, bill.Node, total); err != nil {
			journal.Revert()
			return errors.NewTransferFailureError(contracts.NativeAsset.Hex(), bill.Node.Hex(), err)
		}
	} else {
		if call.AttachedValue().Sign() != 0 {
			journal.Revert()
			return errors.NewValidationError("value",
				"no native value allowed on token bills", call.AttachedValue().String())
		}
		if err := a.backend.TransferFrom(bill.Asset, bill.Client, bill.Node, total); err != nil {
			journal.Revert()
			return errors.NewTransferFailureError(bill.Asset.Hex(), bill.Node.Hex(), err)
		}
	}

	a.record(call, bill)
	a.log("bill paid",
		zap.String("client", bill.Client.Hex()),
		zap.String("node", bill.Node.Hex()),
		zap.Uint64("nonce", bill.Nonce),
		zap.String("total", total.String()),
	)
	return nil
}

// NextNonce returns the client's next expected bill nonce.
func (a *Authorization) NextNonce(client common.Address) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonces[client]
}

func (a *Authorization) record(call runtime.Call, bill *Bill) {
	if a.audit == nil {
		return
	}
	entry := contracts.AuditEntry{
		At:           call.Now,
		Component:    "billing",
		Op:           "pay_bill",
		Actor:        bill.Client,
		Counterparty: bill.Node,
		Asset:        bill.Asset,
		Delta:        bill.Total(),
		Memo:         "bill nonce " + strconv.FormatUint(bill.Nonce, 10),
	}
	if err := a.audit.Record(entry); err != nil && a.logger != nil {
		a.logger.ComponentError(logging.ComponentBilling, "audit record failed", zap.Error(err))
	}
}

func (a *Authorization) log(msg string, fields ...zap.Field) {
	if a.logger != nil {
		a.logger.ComponentInfo(logging.ComponentBilling, msg, fields...)
	}
}
