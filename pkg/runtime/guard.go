package runtime

import "sync"

// Guard is a call-scoped mutual-exclusion guard protecting a set of
// balance-mutating entry points against reentry. An outbound payout can hand
// control to untrusted code; if that code calls back into any entry point
// sharing this guard before the first operation completes, the nested call
// must fail rather than observe half-applied state.
//
// Enter does not block: a held guard means a reentrant or concurrent call,
// and both are rejected the same way.
type Guard struct {
	mu sync.Mutex
}

// Enter acquires the guard. It reports false if the guard is already held.
func (g *Guard) Enter() bool {
	return g.mu.TryLock()
}

// Exit releases the guard. Calling Exit without a matching Enter panics.
func (g *Guard) Exit() {
	g.mu.Unlock()
}
