package contracts

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// MembershipRegistry is the read-only view of the authorized node set shared
// by every component that gates operations on node membership.
type MembershipRegistry interface {
	// IsActive reports whether the identity is currently an authorized node.
	IsActive(node common.Address) bool

	// ActiveCount returns the number of currently authorized nodes.
	ActiveCount() int

	// Active returns a copy of the currently authorized node set.
	Active() []common.Address
}

// MembershipController extends the registry view with removal, used by the
// moderation module once a quorum-approved removal is finalized. The caller in
// the supplied context must be the registry's admin or its configured
// operator.
type MembershipController interface {
	MembershipRegistry

	// Remove deauthorizes an active node. Fails with an authorization error
	// for any caller other than the admin or operator, and with an invalid
	// state error if the node is not active.
	Remove(call runtime.Call, node common.Address) error
}
