package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perparb/fundarb/internal/domain"
)

// LegStore implements domain.LegStore using PostgreSQL.
type LegStore struct {
	pool *pgxpool.Pool
}

// NewLegStore creates a LegStore backed by the given connection pool.
func NewLegStore(pool *pgxpool.Pool) *LegStore {
	return &LegStore{pool: pool}
}

var _ domain.LegStore = (*LegStore)(nil)

const legSelectCols = `id, trade_id, venue, token, side, size, entry_price,
	leverage, cost, unrealized_pnl, realized_pnl, status, external_id,
	opened_at, updated_at`

func scanLeg(row pgx.Row) (domain.Leg, error) {
	var l domain.Leg
	err := row.Scan(
		&l.ID, &l.TradeID, &l.Venue, &l.Token, &l.Side, &l.Size, &l.EntryPrice,
		&l.Leverage, &l.Cost, &l.UnrealizedPnL, &l.RealizedPnL, &l.Status,
		&l.ExternalID, &l.OpenedAt, &l.UpdatedAt,
	)
	return l, err
}

func scanLegRows(rows pgx.Rows) ([]domain.Leg, error) {
	defer rows.Close()
	var legs []domain.Leg
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

// Create inserts a new leg row.
func (s *LegStore) Create(ctx context.Context, leg domain.Leg) error {
	const query = `
		INSERT INTO legs (
			id, trade_id, venue, token, side, size, entry_price,
			leverage, cost, unrealized_pnl, realized_pnl, status,
			external_id, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := s.pool.Exec(ctx, query,
		leg.ID, leg.TradeID, leg.Venue, leg.Token, leg.Side, leg.Size, leg.EntryPrice,
		leg.Leverage, leg.Cost, leg.UnrealizedPnL, leg.RealizedPnL, leg.Status,
		leg.ExternalID, leg.OpenedAt, leg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create leg %s: %w", leg.ID, err)
	}
	return nil
}

// Update overwrites a leg row. The write is atomic per record.
func (s *LegStore) Update(ctx context.Context, leg domain.Leg) error {
	const query = `
		UPDATE legs SET
			side = $2, size = $3, entry_price = $4, leverage = $5, cost = $6,
			unrealized_pnl = $7, realized_pnl = $8, status = $9,
			external_id = $10, updated_at = $11
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		leg.ID, leg.Side, leg.Size, leg.EntryPrice, leg.Leverage, leg.Cost,
		leg.UnrealizedPnL, leg.RealizedPnL, leg.Status,
		leg.ExternalID, leg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update leg %s: %w", leg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: leg %s: %w", leg.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one leg.
func (s *LegStore) GetByID(ctx context.Context, id string) (domain.Leg, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+legSelectCols+` FROM legs WHERE id = $1`, id)
	leg, err := scanLeg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Leg{}, fmt.Errorf("postgres: leg %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Leg{}, fmt.Errorf("postgres: get leg %s: %w", id, err)
	}
	return leg, nil
}

// ListByTrade returns the legs of a trade ordered by id.
func (s *LegStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Leg, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+legSelectCols+` FROM legs WHERE trade_id = $1 ORDER BY id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for trade %s: %w", tradeID, err)
	}
	legs, err := scanLegRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan legs for trade %s: %w", tradeID, err)
	}
	return legs, nil
}

// ListByStatus returns legs in any of the given statuses.
func (s *LegStore) ListByStatus(ctx context.Context, statuses ...domain.LegStatus) ([]domain.Leg, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+legSelectCols+` FROM legs WHERE status = ANY($1) ORDER BY id`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs by status: %w", err)
	}
	legs, err := scanLegRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan legs by status: %w", err)
	}
	return legs, nil
}

// GetByVenueToken returns all legs on one venue for one token.
func (s *LegStore) GetByVenueToken(ctx context.Context, venue, token string) ([]domain.Leg, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+legSelectCols+` FROM legs WHERE venue = $1 AND token = $2 ORDER BY opened_at DESC`,
		venue, token)
	if err != nil {
		return nil, fmt.Errorf("postgres: legs for %s/%s: %w", venue, token, err)
	}
	legs, err := scanLegRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan legs for %s/%s: %w", venue, token, err)
	}
	return legs, nil
}
