package source

import (
	"context"
	"sync"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
)

// MemorySource implements RecordSource with in-memory data. Used for
// testing and development.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string][]model.CorporateActionRecord
	fail    map[string]error
	fetches int
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		records: make(map[string][]model.CorporateActionRecord),
		fail:    make(map[string]error),
	}
}

// Add registers corporate-action history for one instrument.
func (s *MemorySource) Add(ex market.Exchange, code string, recs ...model.CorporateActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memKey(ex, code)] = append(s.records[memKey(ex, code)], recs...)
}

// FailWith makes lookups for one instrument return err.
func (s *MemorySource) FailWith(ex market.Exchange, code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[memKey(ex, code)] = err
}

// Fetches returns how many lookups reached this source. Lets tests
// assert that per-run deduplication is working.
func (s *MemorySource) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

func (s *MemorySource) FetchCorporateActions(_ context.Context, ex market.Exchange, code string) ([]model.CorporateActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	if err, ok := s.fail[memKey(ex, code)]; ok {
		return nil, err
	}

	recs := s.records[memKey(ex, code)]
	out := make([]model.CorporateActionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func memKey(ex market.Exchange, code string) string {
	return string(ex) + ":" + code
}
