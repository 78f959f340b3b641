package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perparb/fundarb/internal/domain"
)

// FundingStore implements domain.FundingStore using PostgreSQL. Rows are
// append-only history; the Redis cache answers the latest-snapshot hot path.
type FundingStore struct {
	pool *pgxpool.Pool
}

// NewFundingStore creates a FundingStore backed by the given connection pool.
func NewFundingStore(pool *pgxpool.Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

var _ domain.FundingStore = (*FundingStore)(nil)

const fundingSelectCols = `venue, token, rate, frequency_hours, next_funding_at,
	mark_price, index_price, fetched_at`

func scanFunding(row pgx.Row) (domain.FundingRateSnapshot, error) {
	var (
		s    domain.FundingRateSnapshot
		next *time.Time
	)
	err := row.Scan(&s.Venue, &s.Token, &s.Rate, &s.FrequencyHours, &next,
		&s.MarkPrice, &s.IndexPrice, &s.FetchedAt)
	if err != nil {
		return domain.FundingRateSnapshot{}, err
	}
	if next != nil {
		s.NextFundingAt = *next
	}
	return s, nil
}

// Insert writes one snapshot row.
func (s *FundingStore) Insert(ctx context.Context, snap domain.FundingRateSnapshot) error {
	return s.InsertBatch(ctx, []domain.FundingRateSnapshot{snap})
}

// InsertBatch writes snapshot rows with a single round trip.
func (s *FundingStore) InsertBatch(ctx context.Context, snaps []domain.FundingRateSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const query = `
		INSERT INTO funding_snapshots (
			venue, token, rate, frequency_hours, next_funding_at,
			mark_price, index_price, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		var next *time.Time
		if !snap.NextFundingAt.IsZero() {
			next = &snap.NextFundingAt
		}
		batch.Queue(query, snap.Venue, snap.Token, snap.Rate, snap.FrequencyHours,
			next, snap.MarkPrice, snap.IndexPrice, snap.FetchedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert funding batch item %d: %w", i, err)
		}
	}
	return nil
}

// Latest returns the most recent snapshot for (venue, token).
func (s *FundingStore) Latest(ctx context.Context, venue, token string) (domain.FundingRateSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fundingSelectCols+` FROM funding_snapshots
		 WHERE venue = $1 AND token = $2
		 ORDER BY fetched_at DESC LIMIT 1`, venue, token)
	snap, err := scanFunding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FundingRateSnapshot{}, fmt.Errorf("postgres: funding %s/%s: %w", venue, token, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FundingRateSnapshot{}, fmt.Errorf("postgres: latest funding %s/%s: %w", venue, token, err)
	}
	return snap, nil
}

// ListRecent returns up to limit snapshots for (venue, token), newest first.
func (s *FundingStore) ListRecent(ctx context.Context, venue, token string, limit int) ([]domain.FundingRateSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundingSelectCols+` FROM funding_snapshots
		 WHERE venue = $1 AND token = $2
		 ORDER BY fetched_at DESC LIMIT $3`, venue, token, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent funding %s/%s: %w", venue, token, err)
	}
	defer rows.Close()

	var snaps []domain.FundingRateSnapshot
	for rows.Next() {
		snap, err := scanFunding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan funding row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// DeleteBefore removes history older than cutoff and reports how many rows
// went.
func (s *FundingStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM funding_snapshots WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune funding history: %w", err)
	}
	return tag.RowsAffected(), nil
}
