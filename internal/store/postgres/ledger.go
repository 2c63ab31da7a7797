package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// maxAttempts bounds how often Update reruns a transaction that lost a
// serialization conflict.
const maxAttempts = 5

// Ledger implements domain.Ledger with SERIALIZABLE transactions, so
// concurrent engine instances observe one total order of operations.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger on the given pool.
func NewLedger(pool *pgxpool.Pool, logger *slog.Logger) *Ledger {
	return &Ledger{pool: pool, logger: logger}
}

// Update runs fn in a serializable transaction, retrying serialization
// failures. fn must be safe to run more than once.
func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	for attempt := 1; ; attempt++ {
		err := l.run(ctx, opts, false, fn)
		if err == nil || !isSerializationFailure(err) || attempt == maxAttempts {
			return err
		}
		l.logger.WarnContext(ctx, "postgres: retrying serialization failure",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}

// View runs fn in a read-only snapshot.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return l.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, true, fn)
}

// Close is a no-op; the pool belongs to the Client.
func (l *Ledger) Close() error { return nil }

func (l *Ledger) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := l.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &tx{tx: pgTx, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func formatU64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(col, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: column %s: %w", col, err)
	}
	return v, nil
}
