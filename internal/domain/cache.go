package domain

import (
	"context"
	"io"
	"time"
)

// FundingCache holds the most recent funding snapshot per (venue, token) for
// cheap reads on the hot path. The Postgres FundingStore keeps history; the
// cache only ever answers "latest".
type FundingCache interface {
	Set(ctx context.Context, snap FundingRateSnapshot) error
	Get(ctx context.Context, venue, token string) (FundingRateSnapshot, error)
	GetAll(ctx context.Context, token string) ([]FundingRateSnapshot, error)
}

// LockManager provides distributed locks so that concurrent bot instances do
// not run the same job against the same account.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned function
	// releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads objects to cold storage. Used by the archival job as the
// destination for retained trades.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
