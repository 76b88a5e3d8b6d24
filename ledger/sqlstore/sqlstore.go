// Package sqlstore keeps the address ledger in a SQLite database, for
// deployments where the stations share one host or a mounted database file
// rather than a synced text ledger. A single-row meta table carries the
// revision counter; merges bump it inside the same transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"macline"
	"macline/ledger"
)

const (
	recordsTable = "records"
	metaTable    = "meta"
)

// Store is a ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	queries := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    addr TEXT NOT NULL PRIMARY KEY,
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    assigned_at TEXT NOT NULL DEFAULT ''
)`, recordsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    key TEXT NOT NULL PRIMARY KEY,
    value TEXT NOT NULL
)`, metaTable),
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (key, value) VALUES ('revision', '1')`, metaTable),
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Seed inserts free records for each address, skipping ones already present.
func (s *Store) Seed(ctx context.Context, addrs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	defer tx.Rollback()

	for _, raw := range addrs {
		addr, err := macline.NormalizeAddr(raw)
		if err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (addr, status) VALUES (?, ?)`, recordsTable),
			addr, macline.StatusFree.String())
		if err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	return nil
}

// Fetch reads every record and the revision in one transaction.
func (s *Store) Fetch(ctx context.Context) (macline.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return macline.Snapshot{}, fmt.Errorf("fetch ledger: %w: %w", ledger.ErrSync, err)
	}
	defer tx.Rollback()

	rev, err := revision(ctx, tx)
	if err != nil {
		return macline.Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT addr, status, owner, assigned_at FROM %s ORDER BY addr`, recordsTable))
	if err != nil {
		return macline.Snapshot{}, fmt.Errorf("fetch ledger: %w: %w", ledger.ErrSync, err)
	}
	defer rows.Close()

	var records []macline.AddressRecord
	for rows.Next() {
		var addr, status, owner, assignedAt string
		if err := rows.Scan(&addr, &status, &owner, &assignedAt); err != nil {
			return macline.Snapshot{}, fmt.Errorf("fetch ledger: %w: %w", ledger.ErrSync, err)
		}
		rec, err := rowToRecord(addr, status, owner, assignedAt)
		if err != nil {
			return macline.Snapshot{}, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return macline.Snapshot{}, fmt.Errorf("fetch ledger: %w: %w", ledger.ErrSync, err)
	}

	return macline.Snapshot{
		Records:  records,
		Revision: macline.Revision(strconv.FormatInt(rev, 10)),
	}, nil
}

// Merge applies p if the revision still matches p.Base and the target row is
// still the free record the proposal was built on. The transaction takes the
// write lock immediately: a concurrent merge waits at BEGIN instead of
// failing mid-transaction on the lock upgrade, and then loses on the
// revision check — lock contention is a conflict, never a sync failure.
func (s *Store) Merge(ctx context.Context, p ledger.Proposal) error {
	if err := p.Verify(); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("merge %s: %w: %w", p.ID, ledger.ErrSync, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("merge %s: %w", p.ID, classifyWriteErr(err))
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	rev, err := revision(ctx, conn)
	if err != nil {
		return err
	}
	if macline.Revision(strconv.FormatInt(rev, 10)) != p.Base {
		return fmt.Errorf("merge %s: base %s behind revision %d: %w", p.ID, p.Base, rev, ledger.ErrConflict)
	}

	res, err := conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, owner = ?, assigned_at = ? WHERE addr = ? AND status = ?`, recordsTable),
		p.After.Status.String(), p.After.Owner, p.After.AssignedAt.UTC().Format(time.RFC3339),
		p.Before.Addr, macline.StatusFree.String())
	if err != nil {
		return fmt.Errorf("merge %s: %w", p.ID, classifyWriteErr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge %s: %w: %w", p.ID, ledger.ErrSync, err)
	}
	if affected != 1 {
		return fmt.Errorf("merge %s: record %s changed since base: %w", p.ID, p.Before.Addr, ledger.ErrConflict)
	}

	if _, err := conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET value = ? WHERE key = 'revision'`, metaTable),
		strconv.FormatInt(rev+1, 10)); err != nil {
		return fmt.Errorf("merge %s: %w", p.ID, classifyWriteErr(err))
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("merge %s: %w", p.ID, classifyWriteErr(err))
	}
	committed = true
	return nil
}

// classifyWriteErr sorts a write failure into the error taxonomy: a busy or
// locked database means another station's merge holds the write lock — a
// recoverable conflict — while anything else is a store sync failure.
func classifyWriteErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("concurrent merge holds the write lock: %w: %v", ledger.ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", ledger.ErrSync, err)
}

// querier is the query surface shared by *sql.Tx and *sql.Conn.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func revision(ctx context.Context, q querier) (int64, error) {
	var value string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = 'revision'`, metaTable)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ledger revision row missing: %w", ledger.ErrSync)
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger revision: %w: %w", ledger.ErrSync, err)
	}
	rev, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ledger revision %q: %w: %w", value, ledger.ErrSync, err)
	}
	return rev, nil
}

func rowToRecord(addr, status, owner, assignedAt string) (macline.AddressRecord, error) {
	st, err := macline.ParseStatus(status)
	if err != nil {
		return macline.AddressRecord{}, fmt.Errorf("record %s: %w", addr, err)
	}
	rec := macline.AddressRecord{Addr: addr, Status: st, Owner: owner}
	if assignedAt != "" {
		ts, err := time.Parse(time.RFC3339, assignedAt)
		if err != nil {
			return macline.AddressRecord{}, fmt.Errorf("record %s: parse assigned_at: %w", addr, err)
		}
		rec.AssignedAt = ts
	}
	return rec, nil
}
