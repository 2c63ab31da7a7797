package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var errReadOnly = errors.New("sqlite: write in read-only transaction")

type tx struct {
	tx       *sql.Tx
	readOnly bool
}

var _ domain.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) Settings(ctx context.Context) (domain.Settings, error) {
	var (
		s                         domain.Settings
		admin, reporter           string
		minStake, nextID, version string
		updatedAt                 string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT admin, reporter, minimum_stake, fee_rate, next_market_id, version, updated_at
		FROM settings WHERE id = 1`,
	).Scan(&admin, &reporter, &minStake, &s.FeeRate, &nextID, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, domain.ErrNotBootstrapped
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("sqlite: get settings: %w", err)
	}

	s.Admin, s.Reporter = domain.Principal(admin), domain.Principal(reporter)
	if s.MinimumStake, err = parseU64("minimum_stake", minStake); err != nil {
		return domain.Settings{}, err
	}
	next, err := parseU64("next_market_id", nextID)
	if err != nil {
		return domain.Settings{}, err
	}
	s.NextMarketID = domain.MarketID(next)
	if s.Version, err = parseU64("version", version); err != nil {
		return domain.Settings{}, err
	}
	if s.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

func (t *tx) PutSettings(ctx context.Context, s domain.Settings) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (id, admin, reporter, minimum_stake, fee_rate, next_market_id, version, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			admin = excluded.admin,
			reporter = excluded.reporter,
			minimum_stake = excluded.minimum_stake,
			fee_rate = excluded.fee_rate,
			next_market_id = excluded.next_market_id,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		string(s.Admin), string(s.Reporter), formatU64(s.MinimumStake), s.FeeRate,
		formatU64(uint64(s.NextMarketID)), formatU64(s.Version), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put settings: %w", err)
	}
	return nil
}

const marketColumns = `id, start_price, end_price, total_up, total_down, start_block, end_block,
	resolved, resolved_block, created_at, resolved_at`

func scanMarket(row scanner) (domain.Market, error) {
	var (
		m                                   domain.Market
		id                                  int64
		startPrice, endPrice, up, down      string
		startBlock, endBlock, resolvedBlock string
		createdAt                           string
		resolvedAt                          sql.NullString
	)
	if err := row.Scan(&id, &startPrice, &endPrice, &up, &down, &startBlock, &endBlock,
		&m.Resolved, &resolvedBlock, &createdAt, &resolvedAt); err != nil {
		return domain.Market{}, err
	}
	m.ID = domain.MarketID(id)

	var err error
	for _, f := range []struct {
		col string
		src string
		dst *uint64
	}{
		{"start_price", startPrice, &m.StartPrice},
		{"end_price", endPrice, &m.EndPrice},
		{"total_up", up, &m.TotalUp},
		{"total_down", down, &m.TotalDown},
		{"start_block", startBlock, &m.StartBlock},
		{"end_block", endBlock, &m.EndBlock},
		{"resolved_block", resolvedBlock, &m.ResolvedBlock},
	} {
		if *f.dst, err = parseU64(f.col, f.src); err != nil {
			return domain.Market{}, err
		}
	}
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return domain.Market{}, err
	}
	if m.ResolvedAt, err = parseNullTime("resolved_at", resolvedAt); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func (t *tx) Market(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	if uint64(id) > math.MaxInt64 {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	row := t.tx.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, int64(id))
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *tx) PutMarket(ctx context.Context, m domain.Market) error {
	if err := t.writable(); err != nil {
		return err
	}
	if uint64(m.ID) > math.MaxInt64 {
		return fmt.Errorf("%w: market id %d", domain.ErrAmountOverflow, m.ID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO markets (`+marketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_price = excluded.end_price,
			total_up = excluded.total_up,
			total_down = excluded.total_down,
			resolved = excluded.resolved,
			resolved_block = excluded.resolved_block,
			resolved_at = excluded.resolved_at`,
		int64(m.ID), formatU64(m.StartPrice), formatU64(m.EndPrice), formatU64(m.TotalUp), formatU64(m.TotalDown),
		formatU64(m.StartBlock), formatU64(m.EndBlock), m.Resolved, formatU64(m.ResolvedBlock),
		formatTime(m.CreatedAt), formatNullTime(m.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put market %d: %w", m.ID, err)
	}
	return nil
}

func (t *tx) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(*opts.Until))
	}
	query += ` ORDER BY id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (t *tx) CountMarkets(ctx context.Context) (int64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	return n, nil
}

const positionColumns = `market_id, owner, side, stake, claimed, payout, fee, created_block, created_at, claimed_at`

func scanPosition(row scanner) (domain.Position, error) {
	var (
		p                                domain.Position
		marketID                         int64
		owner, side                      string
		stake, payout, fee, createdBlock string
		createdAt                        string
		claimedAt                        sql.NullString
	)
	if err := row.Scan(&marketID, &owner, &side, &stake, &p.Claimed, &payout, &fee,
		&createdBlock, &createdAt, &claimedAt); err != nil {
		return domain.Position{}, err
	}
	p.MarketID, p.Owner, p.Side = domain.MarketID(marketID), domain.Principal(owner), domain.Side(side)

	var err error
	if p.Stake, err = parseU64("stake", stake); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = parseU64("payout", payout); err != nil {
		return domain.Position{}, err
	}
	if p.Fee, err = parseU64("fee", fee); err != nil {
		return domain.Position{}, err
	}
	if p.CreatedBlock, err = parseU64("created_block", createdBlock); err != nil {
		return domain.Position{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return domain.Position{}, err
	}
	if p.ClaimedAt, err = parseNullTime("claimed_at", claimedAt); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func (t *tx) Position(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = ? AND owner = ?`,
		int64(id), string(owner))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("position %d/%s: %w", id, owner, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %d/%s: %w", id, owner, err)
	}
	return p, nil
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, owner) DO NOTHING`,
		int64(p.MarketID), string(p.Owner), string(p.Side), formatU64(p.Stake), p.Claimed,
		formatU64(p.Payout), formatU64(p.Fee), formatU64(p.CreatedBlock),
		formatTime(p.CreatedAt), formatNullTime(p.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionExists
	}
	return nil
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE positions SET claimed = ?, payout = ?, fee = ?, claimed_at = ?
		WHERE market_id = ? AND owner = ?`,
		p.Claimed, formatU64(p.Payout), formatU64(p.Fee), formatNullTime(p.ClaimedAt),
		int64(p.MarketID), string(p.Owner),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %d/%s: %w", p.MarketID, p.Owner, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) ListPositions(ctx context.Context, id domain.MarketID) ([]domain.Position, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = ? ORDER BY owner`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (t *tx) Balance(ctx context.Context, who domain.Principal) (uint64, error) {
	var amount string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE principal = ?`, string(who)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: get balance %s: %w", who, err)
	}
	return parseU64("amount", amount)
}

func (t *tx) setBalance(ctx context.Context, who domain.Principal, amount uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (principal, amount) VALUES (?, ?)
		ON CONFLICT(principal) DO UPDATE SET amount = excluded.amount`,
		string(who), formatU64(amount))
	if err != nil {
		return fmt.Errorf("sqlite: set balance %s: %w", who, err)
	}
	return nil
}

func (t *tx) Credit(ctx context.Context, to domain.Principal, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, err := t.Balance(ctx, to)
	if err != nil {
		return err
	}
	next, err := domain.AddAmount(cur, amount)
	if err != nil {
		return err
	}
	return t.setBalance(ctx, to, next)
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Principal, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: transfer to self", domain.ErrInvalidParameter)
	}
	src, err := t.Balance(ctx, from)
	if err != nil {
		return err
	}
	if src < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientBalance, from, src, amount)
	}
	dst, err := t.Balance(ctx, to)
	if err != nil {
		return err
	}
	next, err := domain.AddAmount(dst, amount)
	if err != nil {
		return err
	}
	if err := t.setBalance(ctx, from, src-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, next)
}
