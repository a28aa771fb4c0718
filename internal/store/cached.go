package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ptrader/corpact-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for account and position reads. Writes go to the
// primary store and invalidate the cache. Adjustment-marker checks
// always hit the primary: the idempotency guard must not trust a cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(accountID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(accountID), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.SaveAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(a.AccountID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.AccountID))
	return nil
}

func (s *CachedStore) ApplyAdjustment(ctx context.Context, accountID string, positions []model.Position, a *model.Account, markers []AdjustmentMarker) error {
	if err := s.primary.ApplyAdjustment(ctx, accountID, positions, a, markers); err != nil {
		return err
	}
	// Invalidate both entries; next read re-populates a consistent pair.
	s.rdb.Del(ctx, accountKey(accountID), positionsKey(accountID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) HasAdjustment(ctx context.Context, accountID, code, effectiveDate string) (bool, error) {
	return s.primary.HasAdjustment(ctx, accountID, code, effectiveDate)
}

// --- Cache helpers ---

func accountKey(id string) string   { return fmt.Sprintf("account:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("positions:%s", id) }
