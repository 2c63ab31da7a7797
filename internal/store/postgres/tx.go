package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var errReadOnly = errors.New("postgres: write in read-only transaction")

// tx implements domain.Tx. NUMERIC(20,0) columns are read as text and
// written as text cast to numeric so the full uint64 range round-trips.
type tx struct {
	tx       pgx.Tx
	readOnly bool
}

var _ domain.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// forUpdate row-locks the rows a write transaction reads. Conflicts that
// remain surface as serialization failures, which Update retries.
func (t *tx) forUpdate() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *tx) Settings(ctx context.Context) (domain.Settings, error) {
	var (
		s                         domain.Settings
		admin, reporter           string
		minStake, nextID, version string
		feeRate                   int16
	)
	err := t.tx.QueryRow(ctx, `
		SELECT admin, reporter, minimum_stake::text, fee_rate, next_market_id::text, version::text, updated_at
		FROM settings WHERE id = 1`+t.forUpdate(),
	).Scan(&admin, &reporter, &minStake, &feeRate, &nextID, &version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Settings{}, domain.ErrNotBootstrapped
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}

	s.Admin, s.Reporter, s.FeeRate = domain.Principal(admin), domain.Principal(reporter), uint64(feeRate)
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
	return s, nil
}

func (t *tx) PutSettings(ctx context.Context, s domain.Settings) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO settings (id, admin, reporter, minimum_stake, fee_rate, next_market_id, version, updated_at)
		VALUES (1, $1, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			reporter = EXCLUDED.reporter,
			minimum_stake = EXCLUDED.minimum_stake,
			fee_rate = EXCLUDED.fee_rate,
			next_market_id = EXCLUDED.next_market_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		string(s.Admin), string(s.Reporter), formatU64(s.MinimumStake), int16(s.FeeRate),
		formatU64(uint64(s.NextMarketID)), formatU64(s.Version), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put settings: %w", err)
	}
	return nil
}

const marketSelectCols = `id, start_price::text, end_price::text, total_up::text, total_down::text,
	start_block::text, end_block::text, resolved, resolved_block::text, created_at, resolved_at`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var (
		m                                   domain.Market
		id                                  int64
		startPrice, endPrice, up, down      string
		startBlock, endBlock, resolvedBlock string
	)
	if err := row.Scan(&id, &startPrice, &endPrice, &up, &down, &startBlock, &endBlock,
		&m.Resolved, &resolvedBlock, &m.CreatedAt, &m.ResolvedAt); err != nil {
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
	return m, nil
}

func (t *tx) Market(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	if uint64(id) > math.MaxInt64 {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	m, err := scanMarketRow(t.tx.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`+t.forUpdate(), int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
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
	_, err := t.tx.Exec(ctx, `
		INSERT INTO markets (id, start_price, end_price, total_up, total_down, start_block, end_block,
			resolved, resolved_block, created_at, resolved_at)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8, $9::numeric, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			end_price = EXCLUDED.end_price,
			total_up = EXCLUDED.total_up,
			total_down = EXCLUDED.total_down,
			resolved = EXCLUDED.resolved,
			resolved_block = EXCLUDED.resolved_block,
			resolved_at = EXCLUDED.resolved_at`,
		int64(m.ID), formatU64(m.StartPrice), formatU64(m.EndPrice), formatU64(m.TotalUp), formatU64(m.TotalDown),
		formatU64(m.StartBlock), formatU64(m.EndBlock), m.Resolved, formatU64(m.ResolvedBlock),
		m.CreatedAt, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put market %d: %w", m.ID, err)
	}
	return nil
}

func (t *tx) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

func (t *tx) CountMarkets(ctx context.Context) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

const positionSelectCols = `market_id, owner, side, stake::text, claimed, payout::text, fee::text,
	created_block::text, created_at, claimed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p                                domain.Position
		marketID                         int64
		owner, side                      string
		stake, payout, fee, createdBlock string
	)
	if err := row.Scan(&marketID, &owner, &side, &stake, &p.Claimed, &payout, &fee,
		&createdBlock, &p.CreatedAt, &p.ClaimedAt); err != nil {
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
	return p, nil
}

func (t *tx) Position(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error) {
	p, err := scanPositionRow(t.tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE market_id = $1 AND owner = $2`+t.forUpdate(),
		int64(id), string(owner)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("position %d/%s: %w", id, owner, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", id, owner, err)
	}
	return p, nil
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO positions (market_id, owner, side, stake, claimed, payout, fee, created_block, created_at, claimed_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (market_id, owner) DO NOTHING`,
		int64(p.MarketID), string(p.Owner), string(p.Side), formatU64(p.Stake), p.Claimed,
		formatU64(p.Payout), formatU64(p.Fee), formatU64(p.CreatedBlock), p.CreatedAt, p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionExists
	}
	return nil
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE positions SET claimed = $1, payout = $2::numeric, fee = $3::numeric, claimed_at = $4
		WHERE market_id = $5 AND owner = $6`,
		p.Claimed, formatU64(p.Payout), formatU64(p.Fee), p.ClaimedAt, int64(p.MarketID), string(p.Owner),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d/%s: %w", p.MarketID, p.Owner, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) ListPositions(ctx context.Context, id domain.MarketID) ([]domain.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE market_id = $1 ORDER BY owner`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func (t *tx) Balance(ctx context.Context, who domain.Principal) (uint64, error) {
	var amount string
	err := t.tx.QueryRow(ctx, `SELECT amount::text FROM balances WHERE principal = $1`+t.forUpdate(), string(who)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance %s: %w", who, err)
	}
	return parseU64("amount", amount)
}

func (t *tx) setBalance(ctx context.Context, who domain.Principal, amount uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balances (principal, amount) VALUES ($1, $2::numeric)
		ON CONFLICT (principal) DO UPDATE SET amount = EXCLUDED.amount`,
		string(who), formatU64(amount))
	if err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", who, err)
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
