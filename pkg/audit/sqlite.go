// Package audit persists the settlement accounting trail. The SQLite recorder
// is the durable backend used by the gateway daemon; the memory recorder backs
// tests and ephemeral deployments.
package audit

import (
	"database/sql"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id           TEXT PRIMARY KEY,
	at           INTEGER NOT NULL,
	component    TEXT NOT NULL,
	op           TEXT NOT NULL,
	actor        TEXT NOT NULL,
	counterparty TEXT NOT NULL,
	asset        TEXT NOT NULL,
	delta        TEXT NOT NULL,
	memo         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_at ON audit_entries(at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor);
`

// SQLiteRecorder appends audit entries to a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the audit database at path.
func OpenSQLite(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audit database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize audit schema")
	}
	return &SQLiteRecorder{db: db}, nil
}

// Record appends one committed balance mutation.
func (r *SQLiteRecorder) Record(entry contracts.AuditEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	delta := "0"
	if entry.Delta != nil {
		delta = entry.Delta.String()
	}
	_, err := r.db.Exec(
		`INSERT INTO audit_entries (id, at, component, op, actor, counterparty, asset, delta, memo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		entry.At.UnixNano(),
		entry.Component,
		entry.Op,
		entry.Actor.Hex(),
		entry.Counterparty.Hex(),
		entry.Asset.Hex(),
		delta,
		entry.Memo,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record audit entry")
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *SQLiteRecorder) Recent(limit int) ([]contracts.AuditEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, at, component, op, actor, counterparty, asset, delta, memo
		 FROM audit_entries ORDER BY at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var out []contracts.AuditEntry
	for rows.Next() {
		var (
			entry               contracts.AuditEntry
			at                  int64
			actor, counterparty string
			asset, delta        string
		)
		if err := rows.Scan(&entry.ID, &at, &entry.Component, &entry.Op,
			&actor, &counterparty, &asset, &delta, &entry.Memo); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entry.At = time.Unix(0, at)
		entry.Actor = common.HexToAddress(actor)
		entry.Counterparty = common.HexToAddress(counterparty)
		entry.Asset = common.HexToAddress(asset)
		value, ok := new(big.Int).SetString(delta, 10)
		if !ok {
			return nil, errors.Newf("corrupt delta %q in audit entry %s", delta, entry.ID)
		}
		entry.Delta = value
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate audit entries")
	}
	return out, nil
}

// Close releases the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
