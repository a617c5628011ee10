// Package registry maintains the authoritative set of currently-authorized
// node identities. The active set is a dense arena plus an index map so that
// enumeration is cheap and removal is O(1) (swap-with-last); a separate
// ever-seen flag keeps the append-only historical list free of duplicates when
// a removed node is re-added.
package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/errors"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// Registry is the identity registry. It implements
// contracts.MembershipController.
type Registry struct {
	mu     sync.RWMutex
	logger *logging.ColoredLogger

	admin    common.Address
	operator common.Address

	activeList  []common.Address
	activeIndex map[common.Address]int
	seen        map[common.Address]bool
	history     []common.Address
}

// New creates a registry administered by admin. The logger may be nil.
func New(admin common.Address, logger *logging.ColoredLogger) (*Registry, error) {
	if admin == (common.Address{}) {
		return nil, errors.NewConfigurationError("admin", "admin address must not be zero")
	}
	return &Registry{
		logger:      logger,
		admin:       admin,
		activeIndex: make(map[common.Address]int),
		seen:        make(map[common.Address]bool),
	}, nil
}

// Admin returns the registry's administrative identity.
func (r *Registry) Admin() common.Address {
	return r.admin
}

// SetOperator configures the identity allowed to remove nodes besides the
// admin, typically the moderation instance. Admin only.
func (r *Registry) SetOperator(call runtime.Call, operator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.Caller != r.admin {
		return errors.NewAuthorizationError("setOperator", "admin")
	}
	if operator == (common.Address{}) {
		return errors.NewConfigurationError("operator", "operator address must not be zero")
	}
	r.operator = operator
	r.log("operator configured", zap.String("operator", operator.Hex()))
	return nil
}

// Add authorizes one or more node identities. Admin only; fails if any of the
// identities is already active, with no state change.
func (r *Registry) Add(call runtime.Call, nodes ...common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.Caller != r.admin {
		return errors.NewAuthorizationError("add", "admin")
	}
	if len(nodes) == 0 {
		return errors.NewValidationError("nodes", "at least one node required", nil)
	}
	dedup := make(map[common.Address]bool, len(nodes))
	for _, node := range nodes {
		if node == (common.Address{}) {
			return errors.NewValidationError("node", "node address must not be zero", node.Hex())
		}
		if dedup[node] {
			return errors.NewValidationError("node", "duplicate node in batch", node.Hex())
		}
		dedup[node] = true
		if _, active := r.activeIndex[node]; active {
			return errors.NewInvalidStateError("node "+node.Hex(), "active", "not active")
		}
	}

	for _, node := range nodes {
		r.activeIndex[node] = len(r.activeList)
		r.activeList = append(r.activeList, node)
		if !r.seen[node] {
			r.seen[node] = true
			r.history = append(r.history, node)
		}
		r.log("node authorized", zap.String("node", node.Hex()))
	}
	return nil
}

// Remove deauthorizes an active node. Allowed for the admin or the configured
// operator.
func (r *Registry) Remove(call runtime.Call, node common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.Caller != r.admin && (r.operator == (common.Address{}) || call.Caller != r.operator) {
		return errors.NewAuthorizationError("remove", "admin or operator")
	}
	idx, active := r.activeIndex[node]
	if !active {
		return errors.NewInvalidStateError("node "+node.Hex(), "not active", "active")
	}

	// Swap-with-last keeps the arena dense.
	last := len(r.activeList) - 1
	if idx != last {
		moved := r.activeList[last]
		r.activeList[idx] = moved
		r.activeIndex[moved] = idx
	}
	r.activeList = r.activeList[:last]
	delete(r.activeIndex, node)

	r.log("node removed", zap.String("node", node.Hex()), zap.String("by", call.Caller.Hex()))
	return nil
}

// IsActive reports whether the identity is currently an authorized node.
func (r *Registry) IsActive(node common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activeIndex[node]
	return ok
}

// ActiveCount returns the number of currently authorized nodes.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeList)
}

// Active returns a copy of the currently authorized node set.
func (r *Registry) Active() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.activeList))
	copy(out, r.activeList)
	return out
}

// History returns every identity that was ever authorized, in first-seen
// order, without duplicates.
func (r *Registry) History() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Registry) log(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.ComponentInfo(logging.ComponentRegistry, msg, fields...)
	}
}
