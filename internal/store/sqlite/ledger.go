// Package sqlite implements domain.Ledger on an embedded SQLite database via
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS settings (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	admin          TEXT NOT NULL,
	reporter       TEXT NOT NULL,
	minimum_stake  TEXT NOT NULL,
	fee_rate       INTEGER NOT NULL,
	next_market_id TEXT NOT NULL,
	version        TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	id             INTEGER PRIMARY KEY,
	start_price    TEXT NOT NULL,
	end_price      TEXT NOT NULL DEFAULT '0',
	total_up       TEXT NOT NULL DEFAULT '0',
	total_down     TEXT NOT NULL DEFAULT '0',
	start_block    TEXT NOT NULL,
	end_block      TEXT NOT NULL,
	resolved       INTEGER NOT NULL DEFAULT 0,
	resolved_block TEXT NOT NULL DEFAULT '0',
	created_at     TEXT NOT NULL,
	resolved_at    TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	market_id     INTEGER NOT NULL REFERENCES markets(id),
	owner         TEXT NOT NULL,
	side          TEXT NOT NULL CHECK (side IN ('up', 'down')),
	stake         TEXT NOT NULL,
	claimed       INTEGER NOT NULL DEFAULT 0,
	payout        TEXT NOT NULL DEFAULT '0',
	fee           TEXT NOT NULL DEFAULT '0',
	created_block TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	claimed_at    TEXT,
	PRIMARY KEY (market_id, owner)
);

CREATE TABLE IF NOT EXISTS balances (
	principal TEXT PRIMARY KEY,
	amount    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
`

// Ledger is a domain.Ledger stored in a SQLite file.
type Ledger struct {
	db *sql.DB
}

var _ domain.Ledger = (*Ledger)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema migration: %w", err)
	}
	return &Ledger{db: db}, nil
}

// DB returns the underlying handle.
func (l *Ledger) DB() *sql.DB { return l.db }

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Update runs fn in a transaction, committing only if fn returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return l.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return l.run(ctx, true, fn)
}

func (l *Ledger) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(ctx, &tx{tx: sqlTx, readOnly: readOnly}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if readOnly {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func formatU64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(col, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite: column %s: %w", col, err)
	}
	return v, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(col, s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: column %s: %w", col, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(col string, s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(col, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
