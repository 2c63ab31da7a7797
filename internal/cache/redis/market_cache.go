package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// DefaultMarketTTL bounds how long a cached market may be served.
const DefaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with one JSON string per market.
// The service layer stores the committed record after every write to it, so
// the TTL only limits memory held by idle markets.
//
// Key schema:
//
//	market:{id} - JSON encoded domain.Market
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero
// ttl selects DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(id domain.MarketID) string { return "market:" + id.String() }

// maxSetAttempts bounds optimistic retries when another writer touches the
// key between WATCH and EXEC.
const maxSetAttempts = 5

// Set stores a market unless the cached record supersedes it. The compare
// and write run in a WATCH/MULTI transaction; if every attempt conflicts the
// key is dropped so readers fall back to the ledger.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}
	key := marketKey(market.ID)

	set := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached domain.Market
			if err := json.Unmarshal(cur, &cached); err == nil && !market.Supersedes(cached) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, mc.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = mc.rdb.Watch(ctx, set, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return mc.Invalidate(ctx, market.ID)
	}
	if err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return market, nil
}

// Invalidate drops a market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id domain.MarketID) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
