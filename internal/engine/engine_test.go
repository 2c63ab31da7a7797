package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/clock"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/store/memory"
)

func mustPrincipal(t *testing.T, s string) domain.Principal {
	t.Helper()
	p, err := domain.ParsePrincipal(s)
	if err != nil {
		t.Fatalf("parse principal %s: %v", s, err)
	}
	return p
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	ledger   *memory.Ledger
	clock    *clock.Manual
	eng      *Engine
	admin    domain.Principal
	reporter domain.Principal
	alice    domain.Principal
	bob      domain.Principal
	carol    domain.Principal
}

func newFixture(t *testing.T, feeRate uint64) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		ledger:   memory.New(),
		clock:    clock.NewManual(0),
		admin:    mustPrincipal(t, "0x1000000000000000000000000000000000000001"),
		reporter: mustPrincipal(t, "0x2000000000000000000000000000000000000002"),
		alice:    mustPrincipal(t, "0xa000000000000000000000000000000000000001"),
		bob:      mustPrincipal(t, "0xb000000000000000000000000000000000000002"),
		carol:    mustPrincipal(t, "0xc000000000000000000000000000000000000003"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.eng = New(f.ledger, f.clock, logger, WithNow(func() time.Time { return fixed }))

	if _, err := f.eng.Bootstrap(f.ctx, BootstrapParams{
		Admin:        f.admin,
		Reporter:     f.reporter,
		MinimumStake: 1,
		FeeRate:      &feeRate,
	}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return f
}

func (f *fixture) fund(who domain.Principal, amount uint64) {
	f.t.Helper()
	if _, err := f.eng.Deposit(f.ctx, f.admin, who, amount); err != nil {
		f.t.Fatalf("deposit %d to %s: %v", amount, who, err)
	}
}

func (f *fixture) market(startPrice, start, end uint64) domain.MarketID {
	f.t.Helper()
	m, err := f.eng.CreateMarket(f.ctx, f.admin, CreateMarketParams{StartPrice: startPrice, StartBlock: start, EndBlock: end})
	if err != nil {
		f.t.Fatalf("create market: %v", err)
	}
	return m.ID
}

func (f *fixture) stake(who domain.Principal, id domain.MarketID, side domain.Side, amount uint64) {
	f.t.Helper()
	if _, err := f.eng.SubmitStake(f.ctx, who, id, side, amount); err != nil {
		f.t.Fatalf("stake %s %s %d: %v", who, side, amount, err)
	}
}

func (f *fixture) resolve(id domain.MarketID, endPrice uint64) {
	f.t.Helper()
	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, id, endPrice); err != nil {
		f.t.Fatalf("resolve market %d: %v", id, err)
	}
}

func (f *fixture) balance(who domain.Principal) uint64 {
	f.t.Helper()
	b, err := f.eng.Balance(f.ctx, who)
	if err != nil {
		f.t.Fatalf("balance %s: %v", who, err)
	}
	return b
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 100)
	f.fund(f.bob, 100)
	f.fund(f.carol, 200)

	id := f.market(100, 10, 20)
	f.clock.Set(10)
	f.stake(f.alice, id, domain.SideUp, 100)
	f.stake(f.bob, id, domain.SideUp, 100)
	f.stake(f.carol, id, domain.SideDown, 200)

	f.clock.Set(20)
	f.resolve(id, 150)

	for _, who := range []domain.Principal{f.alice, f.bob} {
		p, err := f.eng.Claim(f.ctx, who, id)
		if err != nil {
			t.Fatalf("claim %s: %v", who, err)
		}
		if p.Winnings != 200 || p.Fee != 4 || p.Amount != 196 {
			t.Fatalf("claim %s: got %+v, want winnings 200 fee 4 amount 196", who, p)
		}
		if got := f.balance(who); got != 196 {
			t.Fatalf("balance %s: got %d, want 196", who, got)
		}
	}

	if _, err := f.eng.Claim(f.ctx, f.carol, id); !errors.Is(err, domain.ErrNotAWinner) {
		t.Fatalf("carol claim: got %v, want ErrNotAWinner", err)
	}
	pos, err := f.eng.GetPosition(f.ctx, id, f.carol)
	if err != nil {
		t.Fatalf("get carol position: %v", err)
	}
	if pos.Claimed {
		t.Fatalf("losing position must stay unclaimed")
	}

	if got := f.balance(f.admin); got != 8 {
		t.Fatalf("admin fees: got %d, want 8", got)
	}
	custody, err := f.eng.CustodyBalance(f.ctx)
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if custody != 0 {
		t.Fatalf("custody: got %d, want 0", custody)
	}
}

func TestTieSettlesDown(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 100)
	f.fund(f.carol, 100)

	id := f.market(100, 0, 5)
	f.stake(f.alice, id, domain.SideUp, 100)
	f.stake(f.carol, id, domain.SideDown, 100)
	f.clock.Set(5)
	f.resolve(id, 100)

	m, err := f.eng.GetMarket(f.ctx, id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.WinningSide() != domain.SideDown {
		t.Fatalf("tie winner: got %s, want down", m.WinningSide())
	}
	if _, err := f.eng.Claim(f.ctx, f.alice, id); !errors.Is(err, domain.ErrNotAWinner) {
		t.Fatalf("up claim on tie: got %v, want ErrNotAWinner", err)
	}
	p, err := f.eng.Claim(f.ctx, f.carol, id)
	if err != nil {
		t.Fatalf("down claim on tie: %v", err)
	}
	if p.Amount != 196 || p.Fee != 4 {
		t.Fatalf("down payout: got %+v", p)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, 2)
	id := f.market(100, 0, 5)
	f.clock.Set(5)

	checks := map[string]func() error{
		"create market": func() error {
			_, err := f.eng.CreateMarket(f.ctx, f.alice, CreateMarketParams{StartPrice: 1, StartBlock: 0, EndBlock: 1})
			return err
		},
		"resolve by admin": func() error {
			_, err := f.eng.ResolveMarket(f.ctx, f.admin, id, 10)
			return err
		},
		"resolve by participant": func() error {
			_, err := f.eng.ResolveMarket(f.ctx, f.alice, id, 10)
			return err
		},
		"set reporter": func() error {
			_, err := f.eng.SetReporter(f.ctx, f.reporter, f.alice)
			return err
		},
		"set minimum stake": func() error {
			_, err := f.eng.SetMinimumStake(f.ctx, f.alice, 5)
			return err
		},
		"set fee rate": func() error {
			_, err := f.eng.SetFeeRate(f.ctx, f.alice, 5)
			return err
		},
		"withdraw fees": func() error {
			_, err := f.eng.WithdrawFees(f.ctx, f.alice, 1)
			return err
		},
		"deposit": func() error {
			_, err := f.eng.Deposit(f.ctx, f.alice, f.alice, 1)
			return err
		},
	}
	for name, call := range checks {
		if err := call(); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("%s: got %v, want ErrUnauthorized", name, err)
		}
	}

	m, err := f.eng.GetMarket(f.ctx, id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.Resolved {
		t.Fatalf("unauthorized resolve mutated the market")
	}
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t, 2)
	bad := []CreateMarketParams{
		{StartPrice: 100, StartBlock: 10, EndBlock: 10},
		{StartPrice: 100, StartBlock: 10, EndBlock: 9},
		{StartPrice: 0, StartBlock: 0, EndBlock: 10},
	}
	for _, p := range bad {
		if _, err := f.eng.CreateMarket(f.ctx, f.admin, p); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Fatalf("create %+v: got %v, want ErrInvalidParameter", p, err)
		}
	}

	first := f.market(100, 0, 10)
	second := f.market(100, 0, 10)
	if first != 0 || second != 1 {
		t.Fatalf("ids: got %d, %d; want 0, 1", first, second)
	}
	s, err := f.eng.Settings(f.ctx)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.NextMarketID != 2 {
		t.Fatalf("next market id: got %d, want 2", s.NextMarketID)
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 1000)
	id := f.market(100, 10, 20)

	f.clock.Set(9)
	if _, err := f.eng.SubmitStake(f.ctx, f.alice, id, domain.SideUp, 10); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("stake before start: got %v, want ErrMarketClosed", err)
	}
	if m, _ := f.eng.GetMarket(f.ctx, id); m.State != domain.MarketStatePending {
		t.Fatalf("state before start: got %s", m.State)
	}

	f.clock.Set(19)
	f.stake(f.alice, id, domain.SideUp, 10)

	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, id, 150); !errors.Is(err, domain.ErrMarketClosed) || !errors.Is(err, domain.ErrMarketStillOpen) {
		t.Fatalf("early resolve: got %v, want ErrMarketStillOpen", err)
	}
	if _, err := f.eng.Claim(f.ctx, f.alice, id); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("claim before resolution: got %v, want ErrMarketClosed", err)
	}

	f.clock.Set(20)
	if _, err := f.eng.SubmitStake(f.ctx, f.bob, id, domain.SideUp, 10); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("stake at end block: got %v, want ErrMarketClosed", err)
	}
	if m, _ := f.eng.GetMarket(f.ctx, id); m.State != domain.MarketStateAwaitingResolution {
		t.Fatalf("state at end: got %s", m.State)
	}
	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, id, 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("zero end price: got %v, want ErrInvalidParameter", err)
	}

	f.resolve(id, 150)
	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, id, 90); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second resolve: got %v, want ErrAlreadyResolved", err)
	}
	m, _ := f.eng.GetMarket(f.ctx, id)
	if m.State != domain.MarketStateResolved || m.EndPrice != 150 || m.ResolvedBlock != 20 {
		t.Fatalf("resolved market: got %+v", m)
	}

	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, 99, 150); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("resolve unknown: got %v, want ErrNotFound", err)
	}
}

func TestSubmitStakeValidation(t *testing.T) {
	f := newFixture(t, 2)
	if _, err := f.eng.SetMinimumStake(f.ctx, f.admin, 50); err != nil {
		t.Fatalf("set minimum: %v", err)
	}
	f.fund(f.alice, 100)
	id := f.market(100, 0, 10)

	cases := []struct {
		name   string
		market domain.MarketID
		side   domain.Side
		amount uint64
		want   error
	}{
		{"unknown market", 7, domain.SideUp, 60, domain.ErrNotFound},
		{"bad side", id, domain.Side("sideways"), 60, domain.ErrInvalidSide},
		{"below minimum", id, domain.SideUp, 49, domain.ErrInvalidStake},
		{"zero", id, domain.SideUp, 0, domain.ErrInvalidStake},
		{"insufficient", id, domain.SideUp, 101, domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		if _, err := f.eng.SubmitStake(f.ctx, f.alice, tc.market, tc.side, tc.amount); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if got := f.balance(f.alice); got != 100 {
		t.Fatalf("balance after rejected stakes: got %d, want 100", got)
	}
}

func TestSecondStakeRejected(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 100)
	f.fund(f.bob, 100)
	id := f.market(100, 0, 10)

	f.stake(f.alice, id, domain.SideUp, 40)
	if _, err := f.eng.SubmitStake(f.ctx, f.alice, id, domain.SideDown, 30); !errors.Is(err, domain.ErrPositionExists) {
		t.Fatalf("second stake: got %v, want ErrPositionExists", err)
	}
	f.stake(f.bob, id, domain.SideDown, 25)

	m, err := f.eng.GetMarket(f.ctx, id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	positions, err := f.eng.ListPositions(f.ctx, id)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	var up, down uint64
	for _, p := range positions {
		if p.Side == domain.SideUp {
			up += p.Stake
		} else {
			down += p.Stake
		}
	}
	if m.TotalUp != up || m.TotalDown != down {
		t.Fatalf("totals %d/%d do not match positions %d/%d", m.TotalUp, m.TotalDown, up, down)
	}
	if got := f.balance(f.alice); got != 60 {
		t.Fatalf("alice balance: got %d, want 60", got)
	}
	custody, _ := f.eng.CustodyBalance(f.ctx)
	if custody != 65 {
		t.Fatalf("custody: got %d, want 65", custody)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	f := newFixture(t, 10)
	f.fund(f.alice, 50)
	f.fund(f.bob, 50)
	id := f.market(100, 0, 10)
	f.stake(f.alice, id, domain.SideUp, 50)
	f.stake(f.bob, id, domain.SideDown, 50)
	f.clock.Set(10)
	f.resolve(id, 101)

	p, err := f.eng.Claim(f.ctx, f.alice, id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if p.Amount != 90 || p.Fee != 10 {
		t.Fatalf("payout: got %+v", p)
	}
	custody, _ := f.eng.CustodyBalance(f.ctx)

	if _, err := f.eng.Claim(f.ctx, f.alice, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}
	if after, _ := f.eng.CustodyBalance(f.ctx); after != custody {
		t.Fatalf("custody moved on repeat claim: %d -> %d", custody, after)
	}
	if got := f.balance(f.alice); got != 90 {
		t.Fatalf("alice balance: got %d, want 90", got)
	}

	pos, _ := f.eng.GetPosition(f.ctx, id, f.alice)
	if !pos.Claimed || pos.Payout != 90 || pos.Fee != 10 || pos.ClaimedAt == nil {
		t.Fatalf("claimed position: got %+v", pos)
	}
	q, err := f.eng.Quote(f.ctx, id, f.alice)
	if err != nil || q != p {
		t.Fatalf("quote after claim: got %+v, %v; want %+v", q, err, p)
	}
}

func TestZeroParticipantMarket(t *testing.T) {
	f := newFixture(t, 2)
	id := f.market(100, 0, 3)
	f.clock.Set(3)
	f.resolve(id, 200)
	if _, err := f.eng.Claim(f.ctx, f.alice, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("claim on empty market: got %v, want ErrNotFound", err)
	}
	if _, err := f.eng.Claim(f.ctx, f.alice, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("claim on unknown market: got %v, want ErrNotFound", err)
	}
}

func TestWithdrawFeesFromDust(t *testing.T) {
	f := newFixture(t, 0)
	f.fund(f.alice, 1)
	f.fund(f.bob, 2)
	f.fund(f.carol, 4)
	id := f.market(100, 0, 10)
	f.stake(f.alice, id, domain.SideUp, 1)
	f.stake(f.bob, id, domain.SideUp, 2)
	f.stake(f.carol, id, domain.SideDown, 4)
	f.clock.Set(10)
	f.resolve(id, 101)

	a, _ := f.eng.Claim(f.ctx, f.alice, id)
	b, _ := f.eng.Claim(f.ctx, f.bob, id)
	if a.Amount != 2 || b.Amount != 4 {
		t.Fatalf("payouts: got %d and %d, want 2 and 4", a.Amount, b.Amount)
	}
	custody, _ := f.eng.CustodyBalance(f.ctx)
	if custody != 1 {
		t.Fatalf("dust: got %d, want 1", custody)
	}

	if _, err := f.eng.WithdrawFees(f.ctx, f.admin, 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("withdraw 0: got %v, want ErrInvalidParameter", err)
	}
	if _, err := f.eng.WithdrawFees(f.ctx, f.admin, 2); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("withdraw 2: got %v, want ErrInsufficientBalance", err)
	}
	remaining, err := f.eng.WithdrawFees(f.ctx, f.admin, 1)
	if err != nil || remaining != 0 {
		t.Fatalf("withdraw 1: got %d, %v", remaining, err)
	}
	if got := f.balance(f.admin); got != 1 {
		t.Fatalf("admin balance: got %d, want 1", got)
	}
}

func TestSettingsSetters(t *testing.T) {
	f := newFixture(t, 2)
	before, _ := f.eng.Settings(f.ctx)

	if _, err := f.eng.SetFeeRate(f.ctx, f.admin, 101); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("fee 101: got %v", err)
	}
	if _, err := f.eng.SetMinimumStake(f.ctx, f.admin, 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("minimum 0: got %v", err)
	}
	if _, err := f.eng.SetReporter(f.ctx, f.admin, domain.Custody); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("custody reporter: got %v", err)
	}

	s, err := f.eng.SetFeeRate(f.ctx, f.admin, 100)
	if err != nil || s.FeeRate != 100 {
		t.Fatalf("fee 100: got %+v, %v", s, err)
	}
	if s.Version != before.Version+1 {
		t.Fatalf("version: got %d, want %d", s.Version, before.Version+1)
	}

	id := f.market(100, 0, 1)
	f.clock.Set(1)
	if _, err := f.eng.SetReporter(f.ctx, f.admin, f.bob); err != nil {
		t.Fatalf("set reporter: %v", err)
	}
	if _, err := f.eng.ResolveMarket(f.ctx, f.reporter, id, 5); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("old reporter: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.eng.ResolveMarket(f.ctx, f.bob, id, 5); err != nil {
		t.Fatalf("new reporter: %v", err)
	}
}

func TestBootstrapIsFixed(t *testing.T) {
	f := newFixture(t, 2)
	s, err := f.eng.Bootstrap(f.ctx, BootstrapParams{Admin: f.admin, MinimumStake: 999})
	if err != nil {
		t.Fatalf("re-bootstrap same admin: %v", err)
	}
	if s.MinimumStake != 1 {
		t.Fatalf("re-bootstrap overwrote settings: %+v", s)
	}
	if _, err := f.eng.Bootstrap(f.ctx, BootstrapParams{Admin: f.alice}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("bootstrap other admin: got %v, want ErrUnauthorized", err)
	}

	empty := New(memory.New(), f.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := empty.CreateMarket(f.ctx, f.admin, CreateMarketParams{StartPrice: 1, EndBlock: 1}); !errors.Is(err, domain.ErrNotBootstrapped) {
		t.Fatalf("create before bootstrap: got %v", err)
	}
	s, err = empty.Bootstrap(f.ctx, BootstrapParams{Admin: f.admin})
	if err != nil {
		t.Fatalf("bootstrap defaults: %v", err)
	}
	if s.Reporter != f.admin || s.MinimumStake != DefaultMinimumStake || s.FeeRate != DefaultFeeRate {
		t.Fatalf("defaults: got %+v", s)
	}
}

// failingLedger aborts every Update after fn has run.
type failingLedger struct {
	*memory.Ledger
}

var errInjected = errors.New("injected commit failure")

func (l failingLedger) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return l.Ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errInjected
	})
}

func TestFailedClaimLeavesNoTrace(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 100)
	f.fund(f.bob, 100)
	id := f.market(100, 0, 10)
	f.stake(f.alice, id, domain.SideUp, 100)
	f.stake(f.bob, id, domain.SideDown, 100)
	f.clock.Set(10)
	f.resolve(id, 200)

	seq := f.ledger.Seq()
	broken := New(failingLedger{f.ledger}, f.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := broken.Claim(f.ctx, f.alice, id); !errors.Is(err, errInjected) {
		t.Fatalf("claim: got %v, want injected failure", err)
	}
	if f.ledger.Seq() != seq {
		t.Fatalf("aborted claim committed")
	}
	if got := f.balance(f.alice); got != 0 {
		t.Fatalf("alice balance: got %d, want 0", got)
	}
	if got := f.balance(f.admin); got != 0 {
		t.Fatalf("admin balance: got %d, want 0", got)
	}
	pos, _ := f.eng.GetPosition(f.ctx, id, f.alice)
	if pos.Claimed {
		t.Fatalf("aborted claim marked the position")
	}

	if _, err := f.eng.Claim(f.ctx, f.alice, id); err != nil {
		t.Fatalf("claim after abort: %v", err)
	}
}

func TestConservationAcrossRandomMarkets(t *testing.T) {
	f := newFixture(t, 3)
	rng := rand.New(rand.NewSource(7))

	players := make([]domain.Principal, 8)
	for i := range players {
		players[i] = mustPrincipal(t, fmt.Sprintf("0x%040x", 0xfeed00+i))
		f.fund(players[i], 1_000_000)
	}

	for round := 0; round < 20; round++ {
		base := uint64(round) * 10
		f.clock.Set(base)
		id := f.market(1000, base, base+5)

		var pool uint64
		for _, p := range players {
			if rng.Intn(3) == 0 {
				continue
			}
			side := domain.SideUp
			if rng.Intn(2) == 0 {
				side = domain.SideDown
			}
			amount := uint64(rng.Intn(5000) + 1)
			f.stake(p, id, side, amount)
			pool += amount
		}

		m, _ := f.eng.GetMarket(f.ctx, id)
		if m.TotalUp+m.TotalDown != pool {
			t.Fatalf("round %d: pool %d != stakes %d", round, m.TotalUp+m.TotalDown, pool)
		}

		f.clock.Set(base + 5)
		f.resolve(id, uint64(900+rng.Intn(200)))
		custodyBefore, _ := f.eng.CustodyBalance(f.ctx)

		var paid uint64
		for _, p := range players {
			if _, err := f.eng.GetPosition(f.ctx, id, p); errors.Is(err, domain.ErrNotFound) {
				continue
			}
			payout, err := f.eng.Claim(f.ctx, p, id)
			if errors.Is(err, domain.ErrNotAWinner) {
				continue
			}
			if err != nil {
				t.Fatalf("round %d claim: %v", round, err)
			}
			paid += payout.Winnings
		}
		if paid > pool {
			t.Fatalf("round %d: paid %d exceeds pool %d", round, paid, pool)
		}
		custodyAfter, _ := f.eng.CustodyBalance(f.ctx)
		if custodyBefore-custodyAfter != paid {
			t.Fatalf("round %d: custody moved %d, paid %d", round, custodyBefore-custodyAfter, paid)
		}
	}
}

func TestReadsDoNotMutate(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(f.alice, 10)
	id := f.market(100, 0, 10)
	f.stake(f.alice, id, domain.SideUp, 10)

	seq := f.ledger.Seq()
	first, _ := f.eng.GetMarket(f.ctx, id)
	second, _ := f.eng.GetMarket(f.ctx, id)
	if first.Market != second.Market {
		t.Fatalf("reads disagree: %+v vs %+v", first, second)
	}
	if _, err := f.eng.GetPosition(f.ctx, id, f.alice); err != nil {
		t.Fatalf("get position: %v", err)
	}
	if _, err := f.eng.GetPosition(f.ctx, id, f.bob); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("absent position: got %v", err)
	}
	if _, err := f.eng.Quote(f.ctx, id, f.alice); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("quote unresolved: got %v", err)
	}
	if _, _, err := f.eng.ListMarkets(f.ctx, domain.ListOpts{}); err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if f.ledger.Seq() != seq {
		t.Fatalf("reads committed a transaction")
	}
}
