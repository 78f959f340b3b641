// Package service implements the business layer: funding-rate refresh,
// position reconciliation, trade lifecycle, auto-close policy, opportunity
// trading, and retention. Services hold no venue state of their own; venue
// truth flows in through connectors and out through the stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

// FundingService refreshes funding-rate snapshots across venues and serves
// latest-snapshot lookups from cache with a store fallback.
type FundingService struct {
	registry *venue.Registry
	store    domain.FundingStore
	cache    domain.FundingCache
	tokens   []string
	logger   *slog.Logger
}

// NewFundingService creates a FundingService. tokens limits the refresh to
// the configured universe; empty means every market each venue knows.
func NewFundingService(
	registry *venue.Registry,
	store domain.FundingStore,
	cache domain.FundingCache,
	tokens []string,
	logger *slog.Logger,
) *FundingService {
	return &FundingService{
		registry: registry,
		store:    store,
		cache:    cache,
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "funding")),
	}
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	Snapshots    int
	VenueErrors  map[string]string
	VenuesPolled int
}

// Refresh fans out GetFundingRates to every market-data connector
// concurrently and persists the results. A venue's failure is recorded and
// excluded; it never aborts the other venues' refresh.
func (s *FundingService) Refresh(ctx context.Context) (RefreshResult, error) {
	connectors := s.registry.WithCapability(venue.CapMarketData)
	result := RefreshResult{VenueErrors: make(map[string]string), VenuesPolled: len(connectors)}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		snaps []domain.FundingRateSnapshot
	)
	for _, c := range connectors {
		wg.Add(1)
		go func(c venue.Connector) {
			defer wg.Done()
			got, err := c.GetFundingRates(ctx, s.tokens)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, domain.ErrUnsupportedOperation) {
					s.logger.Debug("venue has no funding rates", slog.String("venue", c.Name()))
					return
				}
				s.logger.Warn("funding refresh failed",
					slog.String("venue", c.Name()),
					slog.Any("error", err))
				result.VenueErrors[c.Name()] = err.Error()
				return
			}
			snaps = append(snaps, got...)
		}(c)
	}
	wg.Wait()

	if len(snaps) > 0 {
		if err := s.store.InsertBatch(ctx, snaps); err != nil {
			return result, fmt.Errorf("funding: persist snapshots: %w", err)
		}
		for _, snap := range snaps {
			if err := s.cache.Set(ctx, snap); err != nil {
				s.logger.Warn("funding cache write failed",
					slog.String("venue", snap.Venue),
					slog.String("token", snap.Token),
					slog.Any("error", err))
			}
		}
	}
	result.Snapshots = len(snaps)
	return result, nil
}

// Latest returns the most recent snapshot for (venueName, token), preferring
// the cache and falling back to store history.
func (s *FundingService) Latest(ctx context.Context, venueName, token string) (domain.FundingRateSnapshot, error) {
	snap, err := s.cache.Get(ctx, venueName, token)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("funding cache read failed",
			slog.String("venue", venueName),
			slog.String("token", token),
			slog.Any("error", err))
	}
	return s.store.Latest(ctx, venueName, token)
}

// LatestAll returns the most recent snapshot per venue for the token.
func (s *FundingService) LatestAll(ctx context.Context, token string) ([]domain.FundingRateSnapshot, error) {
	snaps, err := s.cache.GetAll(ctx, token)
	if err == nil && len(snaps) > 0 {
		return snaps, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("funding cache scan failed",
			slog.String("token", token),
			slog.Any("error", err))
	}

	// Cache miss: rebuild from store history per registered venue.
	var out []domain.FundingRateSnapshot
	for _, name := range s.registry.Names() {
		snap, err := s.store.Latest(ctx, name, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// PruneBefore deletes snapshot history older than cutoff.
func (s *FundingService) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.DeleteBefore(ctx, cutoff)
}
