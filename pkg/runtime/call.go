// Package runtime provides the execution-context primitives shared by every
// settlement component: the verified call context supplied by the host, the
// non-reentrant entry guard, and the undo journal used to keep operations
// all-or-nothing when an outbound transfer fails.
package runtime

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call carries the verified execution context for a single operation.
// The host establishes Caller cryptographically, attaches any native value
// sent with the call, and stamps a monotonic timestamp. Components never
// consult a wall clock directly; all time comparisons use Call.Now.
type Call struct {
	Caller common.Address
	Value  *big.Int
	Now    time.Time
}

// NewCall builds a call context with no attached value.
func NewCall(caller common.Address, now time.Time) Call {
	return Call{Caller: caller, Value: new(big.Int), Now: now}
}

// NewValueCall builds a call context carrying attached native value.
func NewValueCall(caller common.Address, value *big.Int, now time.Time) Call {
	if value == nil {
		value = new(big.Int)
	}
	return Call{Caller: caller, Value: new(big.Int).Set(value), Now: now}
}

// AttachedValue returns the native value sent with the call, never nil.
func (c Call) AttachedValue() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}
