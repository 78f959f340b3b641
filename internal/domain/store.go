package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LegStore persists legs. Updates are atomic per record; no cross-record
// transaction is required across the two legs of a trade.
type LegStore interface {
	Create(ctx context.Context, leg Leg) error
	Update(ctx context.Context, leg Leg) error
	GetByID(ctx context.Context, id string) (Leg, error)
	ListByTrade(ctx context.Context, tradeID string) ([]Leg, error)
	ListByStatus(ctx context.Context, statuses ...LegStatus) ([]Leg, error)
	GetByVenueToken(ctx context.Context, venue, token string) ([]Leg, error)
}

// TradeStore persists trades. Leg rows are owned by LegStore; TradeStore
// implementations load them when returning a Trade.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	Update(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByStatus(ctx context.Context, statuses ...TradeStatus) ([]Trade, error)
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, statuses ...TradeStatus) (int64, error)
}

// FundingStore persists funding-rate snapshot history.
type FundingStore interface {
	Insert(ctx context.Context, snap FundingRateSnapshot) error
	InsertBatch(ctx context.Context, snaps []FundingRateSnapshot) error
	Latest(ctx context.Context, venue, token string) (FundingRateSnapshot, error)
	ListRecent(ctx context.Context, venue, token string, limit int) ([]FundingRateSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
