package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// ChallengeStore implements domain.ChallengeStore. Nonces are plain string
// keys with a TTL and are consumed with GETDEL, so a nonce verifies at most
// one login even across replicas.
type ChallengeStore struct {
	rdb *redis.Client
}

// NewChallengeStore creates a ChallengeStore backed by the given Client.
func NewChallengeStore(c *Client) *ChallengeStore {
	return &ChallengeStore{rdb: c.Underlying()}
}

func challengeKey(nonce string) string { return "auth:challenge:" + nonce }

// Put records nonce as issued to who.
func (cs *ChallengeStore) Put(ctx context.Context, nonce string, who domain.Principal, ttl time.Duration) error {
	ok, err := cs.rdb.SetNX(ctx, challengeKey(nonce), string(who), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: put challenge: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis: put challenge: %w", domain.ErrAlreadyExists)
	}
	return nil
}

// Take consumes a nonce.
func (cs *ChallengeStore) Take(ctx context.Context, nonce string) (domain.Principal, error) {
	who, err := cs.rdb.GetDel(ctx, challengeKey(nonce)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: take challenge: %w", err)
	}
	return domain.Principal(who), nil
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)
