// Package moderation implements peer reporting and quorum-gated, delayed
// removal of misbehaving nodes. Any active node may report another; once
// distinct reports reach ceil(activeCount * thresholdPercent / 100) the target
// is scheduled for removal after a configured delay, and any active node may
// finalize once the delay has elapsed.
package moderation

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// MinRemovalDelay is the lower bound on the removal delay. A shorter delay
// would let a transient quorum remove a node before it can be observed.
const MinRemovalDelay = time.Hour

// Moderation polices registry membership through peer reports.
type Moderation struct {
	mu     sync.Mutex
	logger *logging.ColoredLogger

	admin common.Address
	// self is this instance's identity; the registry must have it configured
	// as operator for finalized removals to succeed.
	self common.Address
	ctrl contracts.MembershipController

	thresholdPercent uint64
	removalDelay     time.Duration

	reports map[common.Address]map[common.Address]bool
	pending map[common.Address]time.Time
}

// New creates a moderation instance bound to a registry controller.
func New(admin, self common.Address, ctrl contracts.MembershipController,
	thresholdPercent uint64, removalDelay time.Duration,
	logger *logging.ColoredLogger) (*Moderation, error) {

	if admin == (common.Address{}) {
		return nil, errors.NewConfigurationError("admin", "admin address must not be zero")
	}
	if self == (common.Address{}) {
		return nil, errors.NewConfigurationError("self", "instance address must not be zero")
	}
	if ctrl == nil {
		return nil, errors.NewConfigurationError("registry", "registry controller required")
	}
	if thresholdPercent < 1 || thresholdPercent > 100 {
		return nil, errors.NewConfigurationError("thresholdPercent", "threshold must be in 1..100")
	}
	if removalDelay < MinRemovalDelay {
		return nil, errors.NewConfigurationError("removalDelay", "removal delay below minimum")
	}
	return &Moderation{
		logger:           logger,
		admin:            admin,
		self:             self,
		ctrl:             ctrl,
		thresholdPercent: thresholdPercent,
		removalDelay:     removalDelay,
		reports:          make(map[common.Address]map[common.Address]bool),
		pending:          make(map[common.Address]time.Time),
	}, nil
}

// Self returns this instance's identity.
func (m *Moderation) Self() common.Address {
	return m.self
}

// SetThresholdPercent updates the quorum percentage. Admin only, 1..100.
func (m *Moderation) SetThresholdPercent(call runtime.Call, percent uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call.Caller != m.admin {
		return errors.NewAuthorizationError("setThresholdPercent", "admin")
	}
	if percent < 1 || percent > 100 {
		return errors.NewValidationError("percent", "threshold must be in 1..100", percent)
	}
	m.thresholdPercent = percent
	m.log("quorum threshold updated", zap.Uint64("percent", percent))
	return nil
}

// SetRemovalDelay updates the delay between quorum and removal. Admin only,
// bounded below by MinRemovalDelay.
func (m *Moderation) SetRemovalDelay(call runtime.Call, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call.Caller != m.admin {
		return errors.NewAuthorizationError("setRemovalDelay", "admin")
	}
	if delay < MinRemovalDelay {
		return errors.NewValidationError("delay", "removal delay below minimum", delay.String())
	}
	m.removalDelay = delay
	m.log("removal delay updated", zap.Duration("delay", delay))
	return nil
}

// Report records the caller's report against target. Both must be active
// nodes; a reporter may report a given target at most once. Reaching quorum
// schedules the target's removal at now + removalDelay.
func (m *Moderation) Report(call runtime.Call, target common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ctrl.IsActive(call.Caller) {
		return errors.NewAuthorizationError("reportNode", "active node")
	}
	if !m.ctrl.IsActive(target) {
		return errors.NewInvalidStateError("node "+target.Hex(), "not active", "active")
	}
	if call.Caller == target {
		return errors.NewValidationError("target", "node cannot report itself", target.Hex())
	}
	if m.reports[target][call.Caller] {
		return errors.NewInvalidStateError("report", "already recorded", "new")
	}

	if m.reports[target] == nil {
		m.reports[target] = make(map[common.Address]bool)
	}
	m.reports[target][call.Caller] = true
	count := uint64(len(m.reports[target]))

	quorum := m.quorum()
	m.log("node reported",
		zap.String("target", target.Hex()),
		zap.String("reporter", call.Caller.Hex()),
		zap.Uint64("reports", count),
		zap.Uint64("quorum", quorum),
	)

	if _, scheduled := m.pending[target]; !scheduled && count >= quorum {
		at := call.Now.Add(m.removalDelay)
		m.pending[target] = at
		m.log("removal scheduled",
			zap.String("target", target.Hex()),
			zap.Time("at", at),
		)
	}
	return nil
}

// FinalizeRemoval removes a target whose scheduled removal time has passed.
// Callable by any active node.
func (m *Moderation) FinalizeRemoval(call runtime.Call, target common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ctrl.IsActive(call.Caller) {
		return errors.NewAuthorizationError("finalizeRemoval", "active node")
	}
	at, scheduled := m.pending[target]
	if !scheduled {
		return errors.NewInvalidStateError("removal of "+target.Hex(), "not scheduled", "scheduled")
	}
	if call.Now.Before(at) {
		return errors.NewInvalidStateError("removal of "+target.Hex(), "pending until "+at.UTC().Format(time.RFC3339), "elapsed")
	}

	if err := m.ctrl.Remove(runtime.NewCall(m.self, call.Now), target); err != nil {
		return err
	}
	delete(m.pending, target)
	delete(m.reports, target)

	m.log("removal finalized",
		zap.String("target", target.Hex()),
		zap.String("by", call.Caller.Hex()),
	)
	return nil
}

// ReportCount returns the number of distinct reports against target.
func (m *Moderation) ReportCount(target common.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.reports[target]))
}

// PendingRemoval returns the scheduled removal time for target, if any.
func (m *Moderation) PendingRemoval(target common.Address) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.pending[target]
	return at, ok
}

// Quorum returns the current report quorum:
// ceil(activeCount * thresholdPercent / 100).
func (m *Moderation) Quorum() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quorum()
}

func (m *Moderation) quorum() uint64 {
	active := uint64(m.ctrl.ActiveCount())
	return (active*m.thresholdPercent + 99) / 100
}

func (m *Moderation) log(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.ComponentInfo(logging.ComponentModeration, msg, fields...)
	}
}
