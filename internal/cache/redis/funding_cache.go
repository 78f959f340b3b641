package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perparb/fundarb/internal/domain"
)

// fundingTTL bounds how stale a cached snapshot may get before it silently
// expires; the refresh job rewrites entries far more often than this.
const fundingTTL = 30 * time.Minute

// FundingCache implements domain.FundingCache using Redis. Each snapshot is
// stored as JSON at "funding:{venue}:{token}", and a per-token set at
// "funding:venues:{token}" tracks which venues have reported it.
type FundingCache struct {
	rdb *redis.Client
}

// NewFundingCache creates a FundingCache backed by the given Client.
func NewFundingCache(c *Client) *FundingCache {
	return &FundingCache{rdb: c.Underlying()}
}

var _ domain.FundingCache = (*FundingCache)(nil)

func fundingKey(venue, token string) string {
	return "funding:" + venue + ":" + token
}

func fundingVenuesKey(token string) string {
	return "funding:venues:" + token
}

// Set stores the snapshot as the latest for its (venue, token).
func (fc *FundingCache) Set(ctx context.Context, snap domain.FundingRateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal funding snapshot: %w", err)
	}

	pipe := fc.rdb.Pipeline()
	pipe.Set(ctx, fundingKey(snap.Venue, snap.Token), data, fundingTTL)
	pipe.SAdd(ctx, fundingVenuesKey(snap.Token), snap.Venue)
	pipe.Expire(ctx, fundingVenuesKey(snap.Token), fundingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set funding %s/%s: %w", snap.Venue, snap.Token, err)
	}
	return nil
}

// Get returns the latest snapshot for (venue, token), or domain.ErrNotFound
// when none is cached.
func (fc *FundingCache) Get(ctx context.Context, venue, token string) (domain.FundingRateSnapshot, error) {
	data, err := fc.rdb.Get(ctx, fundingKey(venue, token)).Bytes()
	if err == redis.Nil {
		return domain.FundingRateSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FundingRateSnapshot{}, fmt.Errorf("redis: get funding %s/%s: %w", venue, token, err)
	}

	var snap domain.FundingRateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.FundingRateSnapshot{}, fmt.Errorf("redis: unmarshal funding %s/%s: %w", venue, token, err)
	}
	return snap, nil
}

// GetAll returns the latest snapshot per venue for the token. Venues whose
// entries have expired are silently omitted.
func (fc *FundingCache) GetAll(ctx context.Context, token string) ([]domain.FundingRateSnapshot, error) {
	venues, err := fc.rdb.SMembers(ctx, fundingVenuesKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: funding venues for %s: %w", token, err)
	}
	if len(venues) == 0 {
		return nil, nil
	}

	keys := make([]string, len(venues))
	for i, v := range venues {
		keys[i] = fundingKey(v, token)
	}
	vals, err := fc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget funding for %s: %w", token, err)
	}

	var snaps []domain.FundingRateSnapshot
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue // expired since the set was read
		}
		var snap domain.FundingRateSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			return nil, fmt.Errorf("redis: unmarshal funding %s/%s: %w", venues[i], token, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
