package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perparb/fundarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trade reads
// hydrate the two leg rows through the legs table; leg writes stay with
// LegStore.
type TradeStore struct {
	pool *pgxpool.Pool
	legs *LegStore
}

// NewTradeStore creates a TradeStore backed by the given connection pool,
// sharing the given LegStore for hydration.
func NewTradeStore(pool *pgxpool.Pool, legs *LegStore) *TradeStore {
	return &TradeStore{pool: pool, legs: legs}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, token, status, auto_close, entry_long_rate,
	entry_short_rate, entry_apr, total_cost, total_pnl, current_apr,
	close_reason, opened_at, closed_at, updated_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t         domain.Trade
		autoClose []byte
	)
	err := row.Scan(
		&t.ID, &t.Token, &t.Status, &autoClose, &t.EntryLongRate,
		&t.EntryShortRate, &t.EntryAPR, &t.TotalCost, &t.TotalPnL, &t.CurrentAPR,
		&t.CloseReason, &t.OpenedAt, &t.ClosedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	if len(autoClose) > 0 {
		if err := json.Unmarshal(autoClose, &t.AutoClose); err != nil {
			return domain.Trade{}, fmt.Errorf("auto_close column: %w", err)
		}
	}
	return t, nil
}

func (s *TradeStore) hydrate(ctx context.Context, t *domain.Trade) error {
	legs, err := s.legs.ListByTrade(ctx, t.ID)
	if err != nil {
		return err
	}
	if len(legs) == 2 {
		t.Legs[0], t.Legs[1] = legs[0], legs[1]
	}
	return nil
}

// Create inserts a trade row. Leg rows are created separately by LegStore.
func (s *TradeStore) Create(ctx context.Context, trade domain.Trade) error {
	autoClose, err := json.Marshal(trade.AutoClose)
	if err != nil {
		return fmt.Errorf("postgres: marshal auto_close: %w", err)
	}
	const query = `
		INSERT INTO trades (
			id, token, status, auto_close, entry_long_rate, entry_short_rate,
			entry_apr, total_cost, total_pnl, current_apr, close_reason,
			opened_at, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.pool.Exec(ctx, query,
		trade.ID, trade.Token, trade.Status, autoClose,
		trade.EntryLongRate, trade.EntryShortRate, trade.EntryAPR,
		trade.TotalCost, trade.TotalPnL, trade.CurrentAPR, trade.CloseReason,
		trade.OpenedAt, trade.ClosedAt, trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", trade.ID, err)
	}
	return nil
}

// Update overwrites a trade row.
func (s *TradeStore) Update(ctx context.Context, trade domain.Trade) error {
	autoClose, err := json.Marshal(trade.AutoClose)
	if err != nil {
		return fmt.Errorf("postgres: marshal auto_close: %w", err)
	}
	const query = `
		UPDATE trades SET
			status = $2, auto_close = $3, total_cost = $4, total_pnl = $5,
			current_apr = $6, close_reason = $7, closed_at = $8, updated_at = $9
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		trade.ID, trade.Status, autoClose, trade.TotalCost, trade.TotalPnL,
		trade.CurrentAPR, trade.CloseReason, trade.ClosedAt, trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", trade.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade %s: %w", trade.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one trade with its legs.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	trade, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	if err := s.hydrate(ctx, &trade); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: hydrate trade %s: %w", id, err)
	}
	return trade, nil
}

func (s *TradeStore) list(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range trades {
		if err := s.hydrate(ctx, &trades[i]); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// ListByStatus returns trades in any of the given statuses.
func (s *TradeStore) ListByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]domain.Trade, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	trades, err := s.list(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = ANY($1) ORDER BY opened_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns up to limit CLOSED trades whose close time is
// before cutoff, oldest first. Used by the archival job.
func (s *TradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	trades, err := s.list(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = $1 AND closed_at IS NOT NULL AND closed_at < $2
		 ORDER BY closed_at LIMIT $3`,
		domain.TradeStatusClosed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	return trades, nil
}

// Delete removes a trade; its legs go with it via the foreign key cascade.
func (s *TradeStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete trade %s: %w", id, err)
	}
	return nil
}

// Count returns how many trades are in any of the given statuses.
func (s *TradeStore) Count(ctx context.Context, statuses ...domain.TradeStatus) (int64, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = ANY($1)`, vals).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
