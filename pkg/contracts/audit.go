package contracts

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuditEntry describes a single committed balance mutation.
type AuditEntry struct {
	ID           string
	At           time.Time
	Component    string
	Op           string
	Actor        common.Address
	Counterparty common.Address
	Asset        common.Address
	Delta        *big.Int
	Memo         string
}

// AuditRecorder persists the accounting trail. Recording happens strictly
// after an operation commits; a recorder error is surfaced to the operator
// through logs but never unwinds the committed operation.
type AuditRecorder interface {
	// Record appends one committed balance mutation to the trail.
	Record(entry AuditEntry) error

	// Close releases any underlying storage.
	Close() error
}
