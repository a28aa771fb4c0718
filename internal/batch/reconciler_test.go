package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/batch"
	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
	"github.com/ptrader/corpact-engine/internal/source"
	"github.com/ptrader/corpact-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var priceTolerance = decimal.New(1, -9)

// newTestEnv creates a reconciler over an in-memory store and source.
func newTestEnv(t *testing.T) (*batch.Reconciler, *store.MemoryStore, *source.MemorySource) {
	t.Helper()
	ms := store.NewMemoryStore()
	src := source.NewMemorySource()
	rec := batch.NewReconciler(ms, src, nil, batch.Options{
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	})
	return rec, ms, src
}

// seedAccount stores a funded account with consistent balances.
func seedAccount(t *testing.T, ms *store.MemoryStore, accountID string) {
	t.Helper()
	acct := &model.Account{
		AccountID:   accountID,
		Assets:      d(1003235.6),
		Available:   d(779653.6),
		MarketValue: d(223582.0),
		Capital:     d(1000000),
		CostRate:    d(0.0003),
		TaxRate:     d(0.001),
		SlipPoint:   d(0.03),
	}
	if err := ms.SaveAccount(context.Background(), acct); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func seedPosition(t *testing.T, ms *store.MemoryStore, accountID, code string, volume int64, avgPrice float64) {
	t.Helper()
	pos := &model.Position{
		AccountID: accountID,
		Code:      code,
		Exchange:  market.Shanghai,
		Volume:    volume,
		Available: volume,
		AvgPrice:  d(avgPrice),
	}
	if err := ms.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
}

func stockDividendRecord(code string, stock, cash float64) model.CorporateActionRecord {
	return model.CorporateActionRecord{
		Code:       code,
		Exchange:   market.Shanghai,
		Year:       2020,
		Month:      8,
		Day:        17,
		Category:   model.CategoryExDividend,
		StockRatio: d(stock),
		CashRatio:  d(cash),
	}
}

func TestRun_StockDividendEndToEnd(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))

	report, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.AccountsProcessed != 1 || report.AccountsAdjusted != 1 {
		t.Errorf("expected 1 processed / 1 adjusted, got %d / %d",
			report.AccountsProcessed, report.AccountsAdjusted)
	}

	positions, _ := ms.ListPositions(context.Background(), "acct1")
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Volume != 1300 || pos.Available != 1300 {
		t.Errorf("expected volume/available 1300, got %d/%d", pos.Volume, pos.Available)
	}
	want := d(20.37).Div(d(1.3))
	if pos.AvgPrice.Sub(want).Abs().GreaterThan(priceTolerance) {
		t.Errorf("expected avg price ≈ %s, got %s", want, pos.AvgPrice)
	}
}

func TestRun_CashDividendCreditsAccount(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600519", 100, 1690)
	src.Add(market.Shanghai, "600519", stockDividendRecord("600519", 0, 6))

	if _, err := rec.Run(context.Background(), "20200817"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	acct, _ := ms.GetAccount(context.Background(), "acct1")
	if !acct.Available.Equal(d(779713.6)) {
		t.Errorf("expected available 779713.6, got %s", acct.Available)
	}
	if !acct.MarketValue.Equal(d(223522.0)) {
		t.Errorf("expected market value 223522, got %s", acct.MarketValue)
	}
}

func TestRun_NoMatchingRecords_NoWrites(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))

	// A day with no effective records anywhere.
	report, err := rec.Run(context.Background(), "20200818")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.AccountsAdjusted != 0 {
		t.Errorf("expected 0 adjusted accounts, got %d", report.AccountsAdjusted)
	}
	if report.AccountsUnaffected != 1 {
		t.Errorf("expected 1 unaffected account, got %d", report.AccountsUnaffected)
	}

	acct, _ := ms.GetAccount(context.Background(), "acct1")
	if !acct.Available.Equal(d(779653.6)) {
		t.Errorf("account must be untouched, got available %s", acct.Available)
	}
	positions, _ := ms.ListPositions(context.Background(), "acct1")
	if positions[0].Volume != 1000 {
		t.Errorf("position must be untouched, got volume %d", positions[0].Volume)
	}
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))

	if _, err := rec.Run(context.Background(), "20200817"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.AccountsAdjusted != 0 {
		t.Errorf("second run must not adjust, got %d", second.AccountsAdjusted)
	}
	if second.AdjustmentsSkipped != 1 {
		t.Errorf("expected 1 skipped adjustment, got %d", second.AdjustmentsSkipped)
	}

	// Without the marker guard the volume would compound to 1690.
	positions, _ := ms.ListPositions(context.Background(), "acct1")
	if positions[0].Volume != 1300 {
		t.Errorf("adjustment double-applied: volume %d", positions[0].Volume)
	}
}

func TestRun_LookupFailureIsolatesInstrument(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600030", 1000, 31.96)
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))
	src.FailWith(market.Shanghai, "600030", source.ErrUnavailable)

	report, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.SkippedLookups != 1 {
		t.Errorf("expected 1 skipped lookup, got %d", report.SkippedLookups)
	}
	if report.AccountsAdjusted != 1 {
		t.Errorf("unrelated instrument must still adjust, got %d adjusted", report.AccountsAdjusted)
	}
	if report.AccountsFailed != 0 {
		t.Errorf("a lookup outage is not an account failure, got %d", report.AccountsFailed)
	}
}

// failingStore makes ApplyAdjustment fail for selected accounts while
// counting attempts.
type failingStore struct {
	store.Store
	mu       sync.Mutex
	failFor  map[string]bool
	attempts map[string]int
}

func newFailingStore(primary store.Store, accountIDs ...string) *failingStore {
	fs := &failingStore{
		Store:    primary,
		failFor:  make(map[string]bool),
		attempts: make(map[string]int),
	}
	for _, id := range accountIDs {
		fs.failFor[id] = true
	}
	return fs
}

func (s *failingStore) ApplyAdjustment(ctx context.Context, accountID string, positions []model.Position, acct *model.Account, markers []store.AdjustmentMarker) error {
	s.mu.Lock()
	s.attempts[accountID]++
	fail := s.failFor[accountID]
	s.mu.Unlock()

	if fail {
		return errors.New("write conflict")
	}
	return s.Store.ApplyAdjustment(ctx, accountID, positions, acct, markers)
}

func TestRun_PersistenceFailureIsolatesAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	src := source.NewMemorySource()
	fs := newFailingStore(ms, "acct1")
	rec := batch.NewReconciler(fs, src, nil, batch.Options{
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	})

	seedAccount(t, ms, "acct1")
	seedAccount(t, ms, "acct2")
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	seedPosition(t, ms, "acct2", "600372", 500, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))

	report, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.AccountsFailed != 1 || report.AccountsAdjusted != 1 {
		t.Errorf("expected 1 failed / 1 adjusted, got %d / %d",
			report.AccountsFailed, report.AccountsAdjusted)
	}
	if len(report.Failures) != 1 || report.Failures[0].AccountID != "acct1" {
		t.Errorf("expected acct1 in failures, got %+v", report.Failures)
	}
	if got := fs.attempts["acct1"]; got != 3 {
		t.Errorf("expected 3 persistence attempts, got %d", got)
	}

	// The healthy account landed despite the failure.
	positions, _ := ms.ListPositions(context.Background(), "acct2")
	if positions[0].Volume != 650 {
		t.Errorf("expected acct2 volume 650, got %d", positions[0].Volume)
	}

	// One fetch despite two accounts holding the instrument.
	if src.Fetches() != 1 {
		t.Errorf("expected deduplicated lookup, got %d fetches", src.Fetches())
	}
}

func TestRun_RightsOnlyRecordAudited(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600030", 1000, 31.96)
	src.Add(market.Shanghai, "600030", model.CorporateActionRecord{
		Code:        "600030",
		Exchange:    market.Shanghai,
		Year:        2020,
		Month:       8,
		Day:         17,
		Category:    model.CategoryExDividend,
		RightsRatio: d(3),
		RightsPrice: d(5.5),
	})

	report, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.RightsPending != 1 {
		t.Errorf("expected 1 pending rights issue, got %d", report.RightsPending)
	}
	if report.AccountsAdjusted != 0 {
		t.Errorf("rights issues must not adjust, got %d", report.AccountsAdjusted)
	}

	positions, _ := ms.ListPositions(context.Background(), "acct1")
	if positions[0].Volume != 1000 || !positions[0].AvgPrice.Equal(d(31.96)) {
		t.Error("rights-only record must not mutate the position")
	}
}

func TestRun_InvalidDateRejected(t *testing.T) {
	rec, _, _ := newTestEnv(t)

	if _, err := rec.Run(context.Background(), "2020-08-17"); err == nil {
		t.Error("expected error for malformed as-of date")
	}
}

func TestRun_ReportRetained(t *testing.T) {
	rec, ms, src := newTestEnv(t)
	seedAccount(t, ms, "acct1")
	seedPosition(t, ms, "acct1", "600372", 1000, 20.37)
	src.Add(market.Shanghai, "600372", stockDividendRecord("600372", 3, 0))

	if rec.LastReport() != nil {
		t.Error("expected no report before the first run")
	}

	report, err := rec.Run(context.Background(), "20200817")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	last := rec.LastReport()
	if last == nil || last.RunID != report.RunID {
		t.Error("latest report not retained")
	}
}
