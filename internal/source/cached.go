package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
)

// CachedSource wraps a primary RecordSource with a Redis read-through
// cache. Corporate-action histories change at most once per day, so a
// short TTL keyed by (exchange, code) removes nearly all provider
// round-trips when the same instrument recurs across many accounts.
type CachedSource struct {
	primary RecordSource
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a cached wrapper around a primary source.
func NewCachedSource(primary RecordSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedSource) FetchCorporateActions(ctx context.Context, ex market.Exchange, code string) ([]model.CorporateActionRecord, error) {
	key := xdxrKey(ex, code)

	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.CorporateActionRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	// Cache miss: fetch from the provider. Failures are not cached so a
	// transient outage does not mask records for the TTL duration.
	records, err := s.primary.FetchCorporateActions(ctx, ex, code)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

func xdxrKey(ex market.Exchange, code string) string {
	return fmt.Sprintf("xdxr:%s:%s", ex, code)
}
