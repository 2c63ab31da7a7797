package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementReport is the archived record of a resolved market: the market
// itself and every position with what it was (or would be) paid.
type SettlementReport struct {
	Market      Market           `json:"market"`
	WinningSide Side             `json:"winning_side"`
	Entries     []SettlementLine `json:"entries"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// SettlementLine is one position in a SettlementReport.
type SettlementLine struct {
	Position Position `json:"position"`
	Winner   bool     `json:"winner"`
	Quote    Payout   `json:"quote"`
}

// ReportArchiver stores settlement reports in cold storage.
type ReportArchiver interface {
	Archive(ctx context.Context, report SettlementReport) (path string, err error)
	Exists(ctx context.Context, id MarketID) (bool, error)
}

// ReportStore reads archived settlement reports back.
type ReportStore interface {
	// Open returns the archived report of id, or ErrNotFound.
	Open(ctx context.Context, id MarketID) (io.ReadCloser, error)
	// List returns every archived report object.
	List(ctx context.Context) ([]BlobInfo, error)
}
