package audit

import (
	"sync"

	"github.com/google/uuid"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
)

// MemoryRecorder keeps the trail in process memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []contracts.AuditEntry
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends one committed balance mutation.
func (r *MemoryRecorder) Record(entry contracts.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far, oldest first.
func (r *MemoryRecorder) Entries() []contracts.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contracts.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recent returns up to limit entries, newest first.
func (r *MemoryRecorder) Recent(limit int) ([]contracts.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]contracts.AuditEntry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

// Close is a no-op.
func (r *MemoryRecorder) Close() error {
	return nil
}
