package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/cache/local"
	"github.com/motunrayo-ayo/bit-oracle/internal/clock"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
	"github.com/motunrayo-ayo/bit-oracle/internal/store/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (n *recordingNotifier) NotifyEvent(_ context.Context, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

type fixture struct {
	ctx       context.Context
	engine    *engine.Engine
	clock     *clock.Manual
	bus       *local.SignalBus
	cache     *local.MarketCache
	audit     *memory.AuditStore
	notifier  *recordingNotifier
	markets   *MarketService
	positions *PositionService
	settings  *SettingsService
	admin     domain.Principal
	alice     domain.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		ctx:      context.Background(),
		clock:    clock.NewManual(0),
		bus:      local.NewSignalBus(100),
		cache:    local.NewMarketCache(time.Minute),
		audit:    memory.NewAuditStore(),
		notifier: &recordingNotifier{err: errors.New("telegram down")},
	}
	var err error
	if f.admin, err = domain.ParsePrincipal("0x1000000000000000000000000000000000000001"); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if f.alice, err = domain.ParsePrincipal("0xa000000000000000000000000000000000000001"); err != nil {
		t.Fatalf("alice: %v", err)
	}

	eng := engine.New(memory.New(), f.clock, logger)
	f.engine = eng
	fee := uint64(2)
	if _, err := eng.Bootstrap(f.ctx, engine.BootstrapParams{Admin: f.admin, MinimumStake: 1, FeeRate: &fee}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	events := NewPublisher(f.bus, f.audit, f.notifier, logger)
	f.markets = NewMarketService(eng, f.cache, events, logger)
	f.positions = NewPositionService(eng, f.markets, events, logger)
	f.settings = NewSettingsService(eng, events, logger)
	return f
}

func TestEventsReachBusStreamAuditAndNotifier(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	sub, err := f.bus.Subscribe(ctx, "ch:market:*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m, err := f.markets.CreateMarket(f.ctx, f.admin, engine.CreateMarketParams{StartPrice: 100, StartBlock: 0, EndBlock: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case data := <-sub:
		var e domain.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if e.Type != domain.EventMarketCreated || e.MarketID == nil || *e.MarketID != m.ID || e.Actor != f.admin {
			t.Fatalf("event %+v", e)
		}
		if e.Payload["start_price"] != "100" {
			t.Fatalf("amounts must travel as strings: %#v", e.Payload["start_price"])
		}
	case <-time.After(time.Second):
		t.Fatalf("no event on bus")
	}

	msgs, err := f.bus.StreamRead(f.ctx, domain.EventStream, "0", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stream: %d, %v", len(msgs), err)
	}
	entries, err := f.audit.List(f.ctx, domain.ListOpts{Limit: 10})
	if err != nil || len(entries) != 1 || entries[0].Event != string(domain.EventMarketCreated) {
		t.Fatalf("audit: %+v, %v", entries, err)
	}
	if len(f.notifier.events) != 1 {
		t.Fatalf("notifier saw %d events", len(f.notifier.events))
	}
}

func TestStakeRefreshesCachedMarket(t *testing.T) {
	f := newFixture(t)
	m, err := f.markets.CreateMarket(f.ctx, f.admin, engine.CreateMarketParams{StartPrice: 100, StartBlock: 0, EndBlock: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.cache.Get(f.ctx, m.ID); err != nil {
		t.Fatalf("created market not cached: %v", err)
	}

	if _, err := f.settings.Deposit(f.ctx, f.admin, f.alice, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.positions.SubmitStake(f.ctx, f.alice, m.ID, domain.SideUp, 50); err != nil {
		t.Fatalf("stake: %v", err)
	}
	cached, err := f.cache.Get(f.ctx, m.ID)
	if err != nil || cached.TotalUp != 50 {
		t.Fatalf("cache not refreshed after stake: %+v, %v", cached, err)
	}

	_ = f.cache.Invalidate(f.ctx, m.ID)
	view, err := f.markets.GetMarket(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.TotalUp != 50 || view.State != domain.MarketStateOpen {
		t.Fatalf("view %+v", view)
	}
	cached, err = f.cache.Get(f.ctx, m.ID)
	if err != nil || cached.TotalUp != 50 {
		t.Fatalf("read-through did not refill cache: %+v, %v", cached, err)
	}

	// The cached record is re-evaluated at the current height.
	f.clock.Set(5)
	view, err = f.markets.GetMarket(f.ctx, m.ID)
	if err != nil || view.State != domain.MarketStateAwaitingResolution || view.Height != 5 {
		t.Fatalf("view at end block: %+v, %v", view, err)
	}
}

// pausingCache holds the first Set after arm until release is closed.
type pausingCache struct {
	*local.MarketCache
	mu      sync.Mutex
	armed   bool
	reached chan struct{}
	release chan struct{}
}

func newPausingCache() *pausingCache {
	return &pausingCache{
		MarketCache: local.NewMarketCache(time.Minute),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (c *pausingCache) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

func (c *pausingCache) Set(ctx context.Context, m domain.Market) error {
	c.mu.Lock()
	hold := c.armed
	c.armed = false
	c.mu.Unlock()
	if hold {
		close(c.reached)
		<-c.release
	}
	return c.MarketCache.Set(ctx, m)
}

func TestLateCacheFillDoesNotHideWrite(t *testing.T) {
	cases := []struct {
		name  string
		write func(f *fixture, markets *MarketService, positions *PositionService, id domain.MarketID) error
		check func(v domain.MarketView) bool
	}{
		{
			name: "resolve",
			write: func(f *fixture, markets *MarketService, _ *PositionService, id domain.MarketID) error {
				f.clock.Set(5)
				_, err := markets.ResolveMarket(f.ctx, f.admin, id, 150)
				return err
			},
			check: func(v domain.MarketView) bool {
				return v.Resolved && v.EndPrice == 150 && v.State == domain.MarketStateResolved
			},
		},
		{
			name: "stake",
			write: func(f *fixture, _ *MarketService, positions *PositionService, id domain.MarketID) error {
				_, err := positions.SubmitStake(f.ctx, f.alice, id, domain.SideDown, 30)
				return err
			},
			check: func(v domain.MarketView) bool { return v.TotalDown == 30 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			cache := newPausingCache()
			markets := NewMarketService(f.engine, cache, nil, logger)
			positions := NewPositionService(f.engine, markets, nil, logger)

			m, err := markets.CreateMarket(f.ctx, f.admin, engine.CreateMarketParams{StartPrice: 100, StartBlock: 0, EndBlock: 5})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := f.settings.Deposit(f.ctx, f.admin, f.alice, 30); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			_ = cache.Invalidate(f.ctx, m.ID)

			cache.arm()
			done := make(chan error, 1)
			go func() {
				_, err := markets.GetMarket(f.ctx, m.ID)
				done <- err
			}()
			select {
			case <-cache.reached:
			case <-time.After(time.Second):
				t.Fatalf("reader never filled the cache")
			}

			if err := tc.write(f, markets, positions, m.ID); err != nil {
				t.Fatalf("write: %v", err)
			}
			close(cache.release)
			if err := <-done; err != nil {
				t.Fatalf("get: %v", err)
			}

			view, err := markets.GetMarket(f.ctx, m.ID)
			if err != nil {
				t.Fatalf("get after write: %v", err)
			}
			if !tc.check(view) {
				t.Fatalf("stale market after committed write: %+v", view)
			}
		})
	}
}

func TestResolveAndClaimEvents(t *testing.T) {
	f := newFixture(t)
	m, _ := f.markets.CreateMarket(f.ctx, f.admin, engine.CreateMarketParams{StartPrice: 100, StartBlock: 0, EndBlock: 5})
	_, _ = f.settings.Deposit(f.ctx, f.admin, f.alice, 50)
	_, _ = f.positions.SubmitStake(f.ctx, f.alice, m.ID, domain.SideUp, 50)
	f.clock.Set(5)

	// admin is also the reporter by default
	if _, err := f.markets.ResolveMarket(f.ctx, f.admin, m.ID, 150); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	payout, err := f.positions.Claim(f.ctx, f.alice, m.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout.Amount != 49 || payout.Fee != 1 {
		t.Fatalf("payout %+v", payout)
	}

	entries, _ := f.audit.List(f.ctx, domain.ListOpts{Limit: 10})
	if len(entries) != 5 {
		t.Fatalf("audit entries %d", len(entries))
	}
	claimed, resolved := entries[0], entries[1]
	if claimed.Event != string(domain.EventPositionClaimed) || claimed.Detail["payout"] != "49" {
		t.Fatalf("claim entry %+v", claimed)
	}
	if resolved.Event != string(domain.EventMarketResolved) || resolved.Detail["winning_side"] != "up" {
		t.Fatalf("resolve entry %+v", resolved)
	}

	// Failed operations publish nothing.
	if _, err := f.positions.Claim(f.ctx, f.alice, m.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: %v", err)
	}
	if after, _ := f.audit.List(f.ctx, domain.ListOpts{Limit: 10}); len(after) != 5 {
		t.Fatalf("failed claim was audited")
	}
}

func TestSettingsChangedEvent(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	sub, _ := f.bus.Subscribe(ctx, "ch:config")

	s, err := f.settings.SetFeeRate(f.ctx, f.admin, 7)
	if err != nil {
		t.Fatalf("set fee: %v", err)
	}
	select {
	case data := <-sub:
		var e domain.Event
		_ = json.Unmarshal(data, &e)
		if e.Type != domain.EventSettingsChanged || e.MarketID != nil || e.Payload["field"] != "fee_rate" {
			t.Fatalf("event %+v", e)
		}
		if v, _ := e.Payload["version"].(float64); uint64(v) != s.Version {
			t.Fatalf("version %v, want %d", e.Payload["version"], s.Version)
		}
	case <-time.After(time.Second):
		t.Fatalf("no config event")
	}

	if _, err := f.settings.SetFeeRate(f.ctx, f.alice, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin fee change: %v", err)
	}
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Emit(context.Background(), domain.Event{Type: domain.EventDeposit})
}
