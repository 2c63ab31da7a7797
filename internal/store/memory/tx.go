package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// tx buffers writes over the committed state until Update applies them.
type tx struct {
	base     *state
	readOnly bool

	settings  *domain.Settings
	markets   map[domain.MarketID]domain.Market
	positions map[positionKey]domain.Position
	balances  map[domain.Principal]uint64
}

var _ domain.Tx = (*tx)(nil)

func newTx(base *state, readOnly bool) *tx {
	return &tx{
		base:      base,
		readOnly:  readOnly,
		markets:   make(map[domain.MarketID]domain.Market),
		positions: make(map[positionKey]domain.Position),
		balances:  make(map[domain.Principal]uint64),
	}
}

func (t *tx) empty() bool {
	return t.settings == nil && len(t.markets) == 0 && len(t.positions) == 0 && len(t.balances) == 0
}

func (t *tx) record(seq uint64) record {
	r := record{Seq: seq, Settings: t.settings}
	for _, m := range t.markets {
		r.Markets = append(r.Markets, m)
	}
	sort.Slice(r.Markets, func(i, j int) bool { return r.Markets[i].ID < r.Markets[j].ID })
	for _, p := range t.positions {
		r.Positions = append(r.Positions, p)
	}
	sort.Slice(r.Positions, func(i, j int) bool {
		if r.Positions[i].MarketID != r.Positions[j].MarketID {
			return r.Positions[i].MarketID < r.Positions[j].MarketID
		}
		return r.Positions[i].Owner < r.Positions[j].Owner
	})
	if len(t.balances) > 0 {
		r.Balances = t.balances
	}
	return r
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) Settings(_ context.Context) (domain.Settings, error) {
	if t.settings != nil {
		return *t.settings, nil
	}
	if t.base.settings != nil {
		return *t.base.settings, nil
	}
	return domain.Settings{}, domain.ErrNotBootstrapped
}

func (t *tx) PutSettings(_ context.Context, s domain.Settings) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.settings = &s
	return nil
}

func (t *tx) Market(_ context.Context, id domain.MarketID) (domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m, nil
	}
	if m, ok := t.base.markets[id]; ok {
		return m, nil
	}
	return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.markets[m.ID] = m
	return nil
}

func (t *tx) allMarkets() []domain.Market {
	out := make([]domain.Market, 0, len(t.base.markets)+len(t.markets))
	for id, m := range t.base.markets {
		if _, shadowed := t.markets[id]; !shadowed {
			out = append(out, m)
		}
	}
	for _, m := range t.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var filtered []domain.Market
	for _, m := range t.allMarkets() {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, m)
	}
	return paginate(filtered, opts), nil
}

func (t *tx) CountMarkets(_ context.Context) (int64, error) {
	n := len(t.base.markets)
	for id := range t.markets {
		if _, ok := t.base.markets[id]; !ok {
			n++
		}
	}
	return int64(n), nil
}

func (t *tx) Position(_ context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error) {
	k := positionKey{id, owner}
	if p, ok := t.positions[k]; ok {
		return p, nil
	}
	if p, ok := t.base.positions[k]; ok {
		return p, nil
	}
	return domain.Position{}, fmt.Errorf("position %d/%s: %w", id, owner, domain.ErrNotFound)
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.Position(ctx, p.MarketID, p.Owner); err == nil {
		return domain.ErrPositionExists
	}
	t.positions[positionKey{p.MarketID, p.Owner}] = p
	return nil
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.Position(ctx, p.MarketID, p.Owner); err != nil {
		return err
	}
	t.positions[positionKey{p.MarketID, p.Owner}] = p
	return nil
}

func (t *tx) ListPositions(_ context.Context, id domain.MarketID) ([]domain.Position, error) {
	var out []domain.Position
	for k, p := range t.base.positions {
		if k.market != id {
			continue
		}
		if _, shadowed := t.positions[k]; !shadowed {
			out = append(out, p)
		}
	}
	for k, p := range t.positions {
		if k.market == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out, nil
}

func (t *tx) Balance(_ context.Context, who domain.Principal) (uint64, error) {
	if b, ok := t.balances[who]; ok {
		return b, nil
	}
	return t.base.balances[who], nil
}

func (t *tx) Credit(ctx context.Context, to domain.Principal, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, _ := t.Balance(ctx, to)
	next, err := domain.AddAmount(cur, amount)
	if err != nil {
		return err
	}
	t.balances[to] = next
	return nil
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Principal, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: transfer to self", domain.ErrInvalidParameter)
	}
	src, _ := t.Balance(ctx, from)
	if src < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientBalance, from, src, amount)
	}
	dst, _ := t.Balance(ctx, to)
	next, err := domain.AddAmount(dst, amount)
	if err != nil {
		return err
	}
	t.balances[from] = src - amount
	t.balances[to] = next
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
