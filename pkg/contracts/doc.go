// Package contracts defines clean, focused interface contracts for the
// settlement engine.
//
// This package follows the Interface Segregation Principle (ISP) by providing
// small, focused interfaces that define clear contracts between components.
// Each interface represents a specific capability or service without exposing
// implementation details. Cross-component references (the usage ledger's
// settlement caller, the moderation module's registry controller, the vault's
// operator) are injected as these interfaces plus a configured instance
// address, never reached through a singleton.
//
// Interfaces:
//   - MembershipRegistry: read-only view of the active node set
//   - MembershipController: registry view plus operator-gated removal
//   - TokenBackend: asset custody (allowance pulls, payouts, balances)
//   - Settler: escrow settlement entry point consumed by the receipt exchange
//   - AuditRecorder: append-only trail of balance mutations
package contracts
