package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ptrader/corpact-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]map[string]*model.Position // accountID → code → position
	markers   map[string]AdjustmentMarker
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]*model.Position),
		markers:   make(map[string]AdjustmentMarker),
	}
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("get account %s: %w", accountID, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.AccountID] = &copy
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCode := s.positions[accountID]
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	positions := make([]model.Position, 0, len(codes))
	for _, code := range codes {
		positions = append(positions, *byCode[code])
	}
	return positions, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertPositionLocked(p)
	return nil
}

func (s *MemoryStore) upsertPositionLocked(p *model.Position) {
	byCode, ok := s.positions[p.AccountID]
	if !ok {
		byCode = make(map[string]*model.Position)
		s.positions[p.AccountID] = byCode
	}
	copy := *p
	byCode[p.Code] = &copy
}

func (s *MemoryStore) HasAdjustment(_ context.Context, accountID, code, effectiveDate string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.markers[markerKey(accountID, code, effectiveDate)]
	return ok, nil
}

// ApplyAdjustment applies all writes under one lock so concurrent
// readers never observe a partial adjustment.
func (s *MemoryStore) ApplyAdjustment(_ context.Context, accountID string, positions []model.Position, a *model.Account, markers []AdjustmentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("apply adjustment %s: %w", accountID, ErrNotFound)
	}

	for i := range positions {
		s.upsertPositionLocked(&positions[i])
	}

	existing.Assets = a.Assets
	existing.Available = a.Available
	existing.MarketValue = a.MarketValue

	for _, m := range markers {
		s.markers[markerKey(m.AccountID, m.Code, m.EffectiveDate)] = m
	}
	return nil
}

func markerKey(accountID, code, effectiveDate string) string {
	return accountID + ":" + code + ":" + effectiveDate
}
