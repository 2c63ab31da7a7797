// Package local provides single-process implementations of the Redis-backed
// domain interfaces, used when no Redis address is configured.
package local

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var (
	_ domain.MarketCache    = (*MarketCache)(nil)
	_ domain.RateLimiter    = (*RateLimiter)(nil)
	_ domain.ChallengeStore = (*ChallengeStore)(nil)
	_ domain.LockManager    = (*LockManager)(nil)
	_ domain.SignalBus      = (*SignalBus)(nil)
)

type cachedMarket struct {
	m       domain.Market
	expires time.Time
}

// MarketCache is an in-memory market cache with a fixed TTL.
type MarketCache struct {
	mu    sync.Mutex
	items map[domain.MarketID]cachedMarket
	ttl   time.Duration
	now   func() time.Time
}

func NewMarketCache(ttl time.Duration) *MarketCache {
	return &MarketCache{items: make(map[domain.MarketID]cachedMarket), ttl: ttl, now: time.Now}
}

// Set keeps the cached record when it supersedes m.
func (mc *MarketCache) Set(_ context.Context, m domain.Market) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if c, ok := mc.items[m.ID]; ok && mc.now().Before(c.expires) && !m.Supersedes(c.m) {
		return nil
	}
	mc.items[m.ID] = cachedMarket{m: m, expires: mc.now().Add(mc.ttl)}
	return nil
}

func (mc *MarketCache) Get(_ context.Context, id domain.MarketID) (domain.Market, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	c, ok := mc.items[id]
	if !ok || mc.now().After(c.expires) {
		delete(mc.items, id)
		return domain.Market{}, domain.ErrNotFound
	}
	return c.m, nil
}

func (mc *MarketCache) Invalidate(_ context.Context, id domain.MarketID) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, id)
	return nil
}

// RateLimiter is an in-memory sliding window limiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

type challenge struct {
	who     domain.Principal
	expires time.Time
}

// ChallengeStore keeps login nonces in memory.
type ChallengeStore struct {
	mu    sync.Mutex
	items map[string]challenge
	now   func() time.Time
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{items: make(map[string]challenge), now: time.Now}
}

func (cs *ChallengeStore) Put(_ context.Context, nonce string, who domain.Principal, ttl time.Duration) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	for k, c := range cs.items {
		if now.After(c.expires) {
			delete(cs.items, k)
		}
	}
	if _, ok := cs.items[nonce]; ok {
		return fmt.Errorf("local: put challenge: %w", domain.ErrAlreadyExists)
	}
	cs.items[nonce] = challenge{who: who, expires: now.Add(ttl)}
	return nil
}

func (cs *ChallengeStore) Take(_ context.Context, nonce string) (domain.Principal, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.items[nonce]
	delete(cs.items, nonce)
	if !ok || cs.now().After(c.expires) {
		return "", domain.ErrNotFound
	}
	return c.who, nil
}

// LockManager hands out process-local locks with an expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]uint64
	until map[string]time.Time
	seq   uint64
	now   func() time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]uint64), until: make(map[string]time.Time), now: time.Now}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.held[key]; ok && lm.now().Before(lm.until[key]) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = token
	lm.until[key] = lm.now().Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if lm.held[key] == token {
				delete(lm.held, key)
				delete(lm.until, key)
			}
		})
	}, nil
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus fans published payloads out to in-process subscribers and keeps
// a bounded in-memory stream per name.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// matches supports the trailing "*" patterns the API subscribes with.
func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for s := range sb.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
			// Slow subscribers drop messages, as with Redis pub/sub.
		}
	}
	return nil
}

func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}
	sb.mu.Lock()
	sb.subs[s] = struct{}{}
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		delete(sb.subs, s)
		close(s.ch)
		sb.mu.Unlock()
	}()
	return s.ch, nil
}

func (sb *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.seq++
	msgs := append(sb.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(sb.seq, 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > sb.maxLen {
		msgs = msgs[len(msgs)-sb.maxLen:]
	}
	sb.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start).
func (sb *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseStreamID(lastID)
	if err != nil {
		return nil, err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()

	var out []domain.StreamMessage
	for _, m := range sb.streams[stream] {
		id, _ := parseStreamID(m.ID)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func parseStreamID(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("local: stream id %q: %w", id, domain.ErrInvalidParameter)
	}
	return n, nil
}
