package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/perparb/fundarb/internal/domain"
)

// defaultArchiveBatch caps how many trades one archival run moves.
const defaultArchiveBatch = 500

// Archiver moves trades that have been CLOSED longer than the retention
// window to object storage and deletes them from the database. Archival is
// the only path that destroys trade and leg records.
type Archiver struct {
	trades    domain.TradeStore
	funding   *FundingService
	blob      domain.BlobWriter
	retention time.Duration
	batch     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver with the given retention window.
func NewArchiver(
	trades domain.TradeStore,
	funding *FundingService,
	blob domain.BlobWriter,
	retention time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		trades:    trades,
		funding:   funding,
		blob:      blob,
		retention: retention,
		batch:     defaultArchiveBatch,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// ArchiveResult summarizes one archival run.
type ArchiveResult struct {
	Archived        int
	SnapshotsPruned int64
	Object          string
}

// Run writes expired trades as JSON lines to one object, then deletes them.
// Funding snapshot history older than the retention window is pruned in the
// same pass.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	trades, err := a.trades.ListClosedBefore(ctx, cutoff, a.batch)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("archiver: list expired trades: %w", err)
	}

	var result ArchiveResult
	if len(trades) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, trade := range trades {
			if err := enc.Encode(trade); err != nil {
				return result, fmt.Errorf("archiver: encode trade %s: %w", trade.ID, err)
			}
		}

		path := fmt.Sprintf("trades/%s.jsonl", a.now().UTC().Format("2006-01-02T15-04-05"))
		if err := a.blob.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
			return result, fmt.Errorf("archiver: upload %s: %w", path, err)
		}
		result.Object = path

		// Delete only after the upload landed; a failed delete leaves the
		// trade eligible again next run, which re-uploads harmlessly.
		for _, trade := range trades {
			if err := a.trades.Delete(ctx, trade.ID); err != nil {
				a.logger.Error("trade delete failed",
					slog.String("trade_id", trade.ID),
					slog.Any("error", err))
				continue
			}
			result.Archived++
		}
	}

	pruned, err := a.funding.PruneBefore(ctx, cutoff)
	if err != nil {
		a.logger.Warn("funding history prune failed", slog.Any("error", err))
	}
	result.SnapshotsPruned = pruned

	if result.Archived > 0 {
		a.logger.Info("archived trades",
			slog.Int("count", result.Archived),
			slog.String("object", result.Object))
	}
	return result, nil
}
