package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var (
	alice = domain.Principal("0xA000000000000000000000000000000000000001")
	bob   = domain.Principal("0xB000000000000000000000000000000000000002")
)

func seed(t *testing.T, l *Ledger) {
	t.Helper()
	err := l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutSettings(ctx, domain.Settings{Admin: alice, Reporter: alice, MinimumStake: 1, FeeRate: 2, NextMarketID: 1, Version: 1}); err != nil {
			return err
		}
		if err := tx.PutMarket(ctx, domain.Market{ID: 0, StartPrice: 100, StartBlock: 0, EndBlock: 10, CreatedAt: time.Unix(100, 0).UTC()}); err != nil {
			return err
		}
		return tx.Credit(ctx, alice, 500)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := New()
	seed(t, l)
	boom := errors.New("boom")

	err := l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Transfer(ctx, alice, domain.Custody, 200); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, domain.Position{MarketID: 0, Owner: alice, Side: domain.SideUp, Stake: 200}); err != nil {
			return err
		}
		// Writes are visible inside the transaction.
		if b, _ := tx.Balance(ctx, domain.Custody); b != 200 {
			t.Fatalf("in-tx custody: got %d", b)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("update: got %v", err)
	}

	err = l.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if b, _ := tx.Balance(ctx, alice); b != 500 {
			t.Fatalf("alice balance after rollback: got %d", b)
		}
		if b, _ := tx.Balance(ctx, domain.Custody); b != 0 {
			t.Fatalf("custody after rollback: got %d", b)
		}
		if _, err := tx.Position(ctx, 0, alice); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("position after rollback: got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if l.Seq() != 1 {
		t.Fatalf("seq: got %d, want 1", l.Seq())
	}
}

func TestTxRules(t *testing.T) {
	l := New()
	ctx := context.Background()

	err := l.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Settings(ctx); !errors.Is(err, domain.ErrNotBootstrapped) {
			t.Fatalf("settings on empty ledger: got %v", err)
		}
		if err := tx.Credit(ctx, alice, 1); err == nil {
			t.Fatalf("credit in view succeeded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	seed(t, l)
	err = l.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		p := domain.Position{MarketID: 0, Owner: alice, Side: domain.SideUp, Stake: 1}
		if err := tx.InsertPosition(ctx, p); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, p); !errors.Is(err, domain.ErrPositionExists) {
			t.Fatalf("duplicate insert: got %v", err)
		}
		if err := tx.UpdatePosition(ctx, domain.Position{MarketID: 0, Owner: bob}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("update missing: got %v", err)
		}
		if err := tx.Transfer(ctx, bob, alice, 1); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("overdraw: got %v", err)
		}
		if err := tx.Credit(ctx, bob, ^uint64(0)); err != nil {
			return err
		}
		if err := tx.Credit(ctx, bob, 1); !errors.Is(err, domain.ErrAmountOverflow) {
			t.Fatalf("credit overflow: got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestListMarketsPaginates(t *testing.T) {
	l := New()
	ctx := context.Background()
	err := l.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i := 4; i >= 0; i-- {
			if err := tx.PutMarket(ctx, domain.Market{ID: domain.MarketID(i), StartPrice: 1, EndBlock: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = l.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, _ := tx.ListMarkets(ctx, domain.ListOpts{Offset: 1, Limit: 2})
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
			t.Fatalf("page: got %+v", got)
		}
		n, _ := tx.CountMarkets(ctx)
		if n != 5 {
			t.Fatalf("count: got %d", n)
		}
		if got, _ := tx.ListMarkets(ctx, domain.ListOpts{Offset: 9}); len(got) != 0 {
			t.Fatalf("past end: got %d", len(got))
		}
		return nil
	})
}

func TestWALReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, l)
	err = l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Transfer(ctx, alice, domain.Custody, 50); err != nil {
			return err
		}
		return tx.InsertPosition(ctx, domain.Position{MarketID: 0, Owner: alice, Side: domain.SideDown, Stake: 50})
	})
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash halfway through appending a third record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	if _, err := f.WriteString(`{"seq":3,"balances":{"cust`); err != nil {
		t.Fatalf("write torn record: %v", err)
	}
	f.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer l.Close()
	if l.Seq() != 2 {
		t.Fatalf("seq after replay: got %d, want 2", l.Seq())
	}

	err = l.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil || s.Admin != alice {
			t.Fatalf("settings after replay: %+v, %v", s, err)
		}
		if b, _ := tx.Balance(ctx, alice); b != 450 {
			t.Fatalf("alice balance: got %d, want 450", b)
		}
		if b, _ := tx.Balance(ctx, domain.Custody); b != 50 {
			t.Fatalf("custody: got %d, want 50", b)
		}
		p, err := tx.Position(ctx, 0, alice)
		if err != nil || p.Side != domain.SideDown {
			t.Fatalf("position: %+v, %v", p, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// The torn tail is gone, so new commits continue the sequence.
	err = l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Credit(ctx, bob, 1)
	})
	if err != nil {
		t.Fatalf("update after replay: %v", err)
	}
	if l.Seq() != 3 {
		t.Fatalf("seq: got %d, want 3", l.Seq())
	}
}

// tornWAL writes half of the next record and then fails.
type tornWAL struct {
	walFile
	failWrites   int
	failTruncate bool
}

func (w *tornWAL) Write(p []byte) (int, error) {
	if w.failWrites > 0 {
		w.failWrites--
		n, _ := w.walFile.Write(p[:len(p)/2])
		return n, errors.New("disk full")
	}
	return w.walFile.Write(p)
}

func (w *tornWAL) Truncate(size int64) error {
	if w.failTruncate {
		return errors.New("io error")
	}
	return w.walFile.Truncate(size)
}

func TestFailedAppendLeavesWALReplayable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, l)
	l.wal = &tornWAL{walFile: l.wal, failWrites: 1}

	credit := func(amount uint64) error {
		return l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			return tx.Credit(ctx, bob, amount)
		})
	}
	if err := credit(7); err == nil {
		t.Fatalf("append error swallowed")
	}
	if l.Seq() != 1 {
		t.Fatalf("failed commit advanced seq to %d", l.Seq())
	}
	if err := credit(5); err != nil {
		t.Fatalf("credit after failed append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("replay after failed append: %v", err)
	}
	defer l.Close()
	if l.Seq() != 2 {
		t.Fatalf("seq after replay: got %d, want 2", l.Seq())
	}
	_ = l.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if b, _ := tx.Balance(ctx, bob); b != 5 {
			t.Fatalf("bob balance: got %d, want 5", b)
		}
		return nil
	})
}

func TestUnrecoverableAppendStopsWrites(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.wal"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	seed(t, l)
	l.wal = &tornWAL{walFile: l.wal, failWrites: 1, failTruncate: true}

	credit := func() error {
		return l.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			return tx.Credit(ctx, bob, 1)
		})
	}
	if err := credit(); err == nil {
		t.Fatalf("append error swallowed")
	}
	if err := credit(); err == nil {
		t.Fatalf("write accepted after unrecoverable wal failure")
	}
	err = l.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Settings(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("reads must keep working: %v", err)
	}
}

func TestAuditStoreNewestFirst(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()
	for _, ev := range []string{"a", "b", "c"} {
		if err := s.Log(ctx, ev, map[string]any{"k": ev}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := s.List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Event != "c" || got[1].Event != "b" {
		t.Fatalf("entries: %+v", got)
	}
}
