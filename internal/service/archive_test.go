package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/perparb/fundarb/internal/domain"
)

func TestArchiverMovesExpiredTrades(t *testing.T) {
	store := newMemStore()
	funding := newMemFunding()
	blob := newMemBlob()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	expired := seedTrade(store, "BTC", [2]domain.LegStatus{domain.LegStatusClosed, domain.LegStatusClosed}, [2]string{"alpha", "beta"})
	expired.Status = domain.TradeStatusClosed
	expired.ClosedAt = &old
	store.trades[expired.ID] = expired

	recent := seedTrade(store, "ETH", [2]domain.LegStatus{domain.LegStatusClosed, domain.LegStatusClosed}, [2]string{"alpha", "beta"})
	now := time.Now().UTC()
	recent.Status = domain.TradeStatusClosed
	recent.ClosedAt = &now
	store.trades[recent.ID] = recent

	funding.Insert(context.Background(), domain.FundingRateSnapshot{
		Venue: "alpha", Token: "BTC", FetchedAt: old,
	})

	reg := newTestRegistry()
	fundingSvc := NewFundingService(reg, funding, funding, nil, testLogger)
	a := NewArchiver(memTradeStore{store}, fundingSvc, blob, 30*24*time.Hour, testLogger)

	result, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Archived != 1 {
		t.Fatalf("archived = %d, want 1", result.Archived)
	}
	if result.SnapshotsPruned != 1 {
		t.Errorf("pruned = %d snapshot rows, want 1", result.SnapshotsPruned)
	}

	if _, ok := store.trades[expired.ID]; ok {
		t.Error("expired trade still in store")
	}
	if _, ok := store.trades[recent.ID]; !ok {
		t.Error("recent trade deleted")
	}

	data, ok := blob.objects[result.Object]
	if !ok {
		t.Fatalf("no object at %s", result.Object)
	}
	if !bytes.Contains(data, []byte(expired.ID)) {
		t.Error("archived object does not contain the trade")
	}
	if bytes.Contains(data, []byte(recent.ID)) {
		t.Error("recent trade leaked into archive")
	}
}

func TestArchiverNoopWhenNothingExpired(t *testing.T) {
	store := newMemStore()
	blob := newMemBlob()
	fundingSvc := NewFundingService(newTestRegistry(), newMemFunding(), newMemFunding(), nil, testLogger)
	a := NewArchiver(memTradeStore{store}, fundingSvc, blob, 30*24*time.Hour, testLogger)

	result, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Archived != 0 || result.Object != "" {
		t.Errorf("result = %+v, want noop", result)
	}
	if len(blob.objects) != 0 {
		t.Error("object uploaded with nothing to archive")
	}
}
