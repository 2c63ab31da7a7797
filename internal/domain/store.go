package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Tx is a view of the ledger inside one transaction. Reads observe the
// transaction's own writes; nothing is visible to other transactions until
// the enclosing Ledger.Update returns nil.
type Tx interface {
	// Settings returns ErrNotBootstrapped before the first PutSettings.
	Settings(ctx context.Context) (Settings, error)
	PutSettings(ctx context.Context, s Settings) error

	Market(ctx context.Context, id MarketID) (Market, error)
	// PutMarket inserts or replaces a market record.
	PutMarket(ctx context.Context, m Market) error
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	CountMarkets(ctx context.Context) (int64, error)

	Position(ctx context.Context, id MarketID, owner Principal) (Position, error)
	// InsertPosition fails with ErrPositionExists if the key is taken.
	InsertPosition(ctx context.Context, p Position) error
	// UpdatePosition fails with ErrNotFound if the key is absent.
	UpdatePosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context, id MarketID) ([]Position, error)

	// Balance returns 0 for unknown accounts.
	Balance(ctx context.Context, who Principal) (uint64, error)
	// Credit adds value entering the engine from outside.
	Credit(ctx context.Context, to Principal, amount uint64) error
	// Transfer moves value between accounts, failing with
	// ErrInsufficientBalance when from cannot cover amount.
	Transfer(ctx context.Context, from, to Principal, amount uint64) error
}

// Ledger is the durable, totally ordered state store. Update runs fn as one
// atomic transaction: either every write fn made commits, or fn's error (or
// a commit failure) is returned and nothing changes.
type Ledger interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Clock supplies the monotonic logical clock (block height).
type Clock interface {
	Height(ctx context.Context) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
