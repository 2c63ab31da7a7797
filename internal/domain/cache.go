package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups in front of the ledger.
type MarketCache interface {
	// Set stores market unless the cached entry already supersedes it, so a
	// slow reader cannot replace a newer record written after its read.
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id MarketID) (Market, error)
	Invalidate(ctx context.Context, id MarketID) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ChallengeStore keeps single-use login nonces.
type ChallengeStore interface {
	// Put records nonce as issued to who until ttl elapses.
	Put(ctx context.Context, nonce string, who Principal, ttl time.Duration) error
	// Take returns and deletes the principal a nonce was issued to. It
	// returns ErrNotFound for unknown, expired, or already used nonces.
	Take(ctx context.Context, nonce string) (Principal, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
