package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
	"github.com/ptrader/corpact-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func storedAccount(id string) *model.Account {
	return &model.Account{
		AccountID:   id,
		Assets:      d(1003235.6),
		Available:   d(779653.6),
		MarketValue: d(223582.0),
		Capital:     d(1000000),
	}
}

func storedPosition(accountID, code string, volume int64) *model.Position {
	return &model.Position{
		AccountID: accountID,
		Code:      code,
		Exchange:  market.Shanghai,
		Volume:    volume,
		Available: volume,
		AvgPrice:  d(20.37),
	}
}

func TestMemoryStore_GetAccount_NotFound(t *testing.T) {
	s := store.NewMemoryStore()

	if _, err := s.GetAccount(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SaveAccount_CopySemantics(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	acct := storedAccount("acct1")
	if err := s.SaveAccount(ctx, acct); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Mutating the caller's struct must not leak into the store.
	acct.Available = d(0)

	got, err := s.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Available.Equal(d(779653.6)) {
		t.Errorf("store leaked caller mutation, got %s", got.Available)
	}

	// Mutating the returned copy must not leak either.
	got.Available = d(1)
	again, _ := s.GetAccount(ctx, "acct1")
	if !again.Available.Equal(d(779653.6)) {
		t.Errorf("store leaked reader mutation, got %s", again.Available)
	}
}

func TestMemoryStore_ListAccounts_Sorted(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.SaveAccount(ctx, storedAccount(id)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	ids, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d accounts, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("expected ids[%d]=%s, got %s", i, want[i], ids[i])
		}
	}
}

func TestMemoryStore_UpsertPosition(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertPosition(ctx, storedPosition("acct1", "600372", 1000)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.UpsertPosition(ctx, storedPosition("acct1", "600372", 1300)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	positions, err := s.ListPositions(ctx, "acct1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position after upsert, got %d", len(positions))
	}
	if positions[0].Volume != 1300 {
		t.Errorf("expected upserted volume 1300, got %d", positions[0].Volume)
	}
}

func TestMemoryStore_ApplyAdjustment(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.SaveAccount(ctx, storedAccount("acct1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.UpsertPosition(ctx, storedPosition("acct1", "600372", 1000)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	updated := *storedPosition("acct1", "600372", 1300)
	acct := storedAccount("acct1")
	acct.Available = d(779713.6)
	acct.MarketValue = d(223522.0)
	markers := []store.AdjustmentMarker{
		{AccountID: "acct1", Code: "600372", EffectiveDate: "20200817", RunID: "run-1"},
	}

	if err := s.ApplyAdjustment(ctx, "acct1", []model.Position{updated}, acct, markers); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	positions, _ := s.ListPositions(ctx, "acct1")
	if positions[0].Volume != 1300 {
		t.Errorf("expected volume 1300, got %d", positions[0].Volume)
	}
	got, _ := s.GetAccount(ctx, "acct1")
	if !got.Available.Equal(d(779713.6)) {
		t.Errorf("expected available 779713.6, got %s", got.Available)
	}

	applied, err := s.HasAdjustment(ctx, "acct1", "600372", "20200817")
	if err != nil || !applied {
		t.Errorf("expected marker to be recorded, got %v / %v", applied, err)
	}
	applied, _ = s.HasAdjustment(ctx, "acct1", "600372", "20200818")
	if applied {
		t.Error("marker must be scoped to the effective date")
	}
	applied, _ = s.HasAdjustment(ctx, "acct2", "600372", "20200817")
	if applied {
		t.Error("marker must be scoped to the account")
	}
}

func TestMemoryStore_ApplyAdjustment_UnknownAccount(t *testing.T) {
	s := store.NewMemoryStore()

	err := s.ApplyAdjustment(context.Background(), "missing", nil, storedAccount("missing"), nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
