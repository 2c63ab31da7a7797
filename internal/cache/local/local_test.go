package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

func TestMarketCacheTTL(t *testing.T) {
	mc := NewMarketCache(time.Minute)
	now := time.Unix(0, 0)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	_ = mc.Set(ctx, domain.Market{ID: 4, StartPrice: 9})
	if m, err := mc.Get(ctx, 4); err != nil || m.StartPrice != 9 {
		t.Fatalf("get: %+v, %v", m, err)
	}
	_ = mc.Invalidate(ctx, 4)
	if _, err := mc.Get(ctx, 4); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("after invalidate: %v", err)
	}
	_ = mc.Set(ctx, domain.Market{ID: 5})
	now = now.Add(2 * time.Minute)
	if _, err := mc.Get(ctx, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("after ttl: %v", err)
	}
}

func TestMarketCacheKeepsNewerSnapshot(t *testing.T) {
	mc := NewMarketCache(time.Minute)
	ctx := context.Background()

	open := domain.Market{ID: 1, StartPrice: 100, TotalUp: 10}
	resolved := open
	resolved.Resolved = true
	resolved.EndPrice = 150

	_ = mc.Set(ctx, resolved)
	_ = mc.Set(ctx, open)
	if m, _ := mc.Get(ctx, 1); !m.Resolved {
		t.Fatalf("older snapshot replaced resolved market: %+v", m)
	}

	staked := resolved
	staked.ID = 2
	staked.Resolved = false
	staked.TotalDown = 5
	_ = mc.Set(ctx, domain.Market{ID: 2, StartPrice: 100, TotalUp: 10})
	_ = mc.Set(ctx, staked)
	if m, _ := mc.Get(ctx, 2); m.TotalDown != 5 {
		t.Fatalf("newer stake totals not stored: %+v", m)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(ctx, "k", 3, time.Second); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	if ok, _ := rl.Allow(ctx, "k", 3, time.Second); ok {
		t.Fatalf("fourth request allowed")
	}
	if ok, _ := rl.Allow(ctx, "other", 3, time.Second); !ok {
		t.Fatalf("keys share a budget")
	}
	now = now.Add(1100 * time.Millisecond)
	if ok, _ := rl.Allow(ctx, "k", 3, time.Second); !ok {
		t.Fatalf("window did not slide")
	}
}

func TestChallengeSingleUse(t *testing.T) {
	cs := NewChallengeStore()
	ctx := context.Background()
	who := domain.Principal("0xA000000000000000000000000000000000000001")

	if err := cs.Put(ctx, "n1", who, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cs.Put(ctx, "n1", who, time.Minute); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate put: %v", err)
	}
	got, err := cs.Take(ctx, "n1")
	if err != nil || got != who {
		t.Fatalf("take: %s, %v", got, err)
	}
	if _, err := cs.Take(ctx, "n1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second take: %v", err)
	}

	now := time.Now()
	cs.now = func() time.Time { return now }
	_ = cs.Put(ctx, "n2", who, time.Second)
	now = now.Add(2 * time.Second)
	if _, err := cs.Take(ctx, "n2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired take: %v", err)
	}
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()
	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "archive", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire: %v", err)
	}
	unlock()
	unlock()
	if _, err := lm.Acquire(ctx, "archive", time.Minute); err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
}

func TestSignalBus(t *testing.T) {
	sb := NewSignalBus(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sb.Subscribe(ctx, "ch:market:*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = sb.Publish(ctx, "ch:config", []byte("cfg"))
	_ = sb.Publish(ctx, "ch:market:1", []byte("m1"))
	select {
	case got := <-ch:
		if string(got) != "m1" {
			t.Fatalf("received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message")
	}

	for _, p := range []string{"a", "b", "c"} {
		_ = sb.StreamAppend(ctx, domain.EventStream, []byte(p))
	}
	msgs, err := sb.StreamRead(ctx, domain.EventStream, "0", 10)
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "b" {
		t.Fatalf("trimmed stream: %+v", msgs)
	}
	rest, _ := sb.StreamRead(ctx, domain.EventStream, msgs[0].ID, 10)
	if len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Fatalf("read after id: %+v", rest)
	}
}
