package runtime

// Journal is an undo log for a single operation. Components record an undo
// closure alongside every internal debit or credit; if a later step fails
// (typically the outbound payout), Revert unwinds the recorded mutations in
// reverse order so the whole operation aborts with zero partial state change.
type Journal struct {
	undos []func()
}

// Record appends an undo closure for a mutation that was just applied.
func (j *Journal) Record(undo func()) {
	j.undos = append(j.undos, undo)
}

// Revert unwinds all recorded mutations, most recent first, and resets the
// journal.
func (j *Journal) Revert() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}

// Len returns the number of recorded mutations.
func (j *Journal) Len() int {
	return len(j.undos)
}
