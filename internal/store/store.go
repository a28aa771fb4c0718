// Package store defines the persistence interface for the brokerage
// ledger. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ptrader/corpact-engine/internal/model"
)

// ErrNotFound is returned when an account or position does not exist.
var ErrNotFound = errors.New("store: not found")

// AdjustmentMarker records that one corporate action was applied to one
// account, keyed by (account, instrument, effective date). Checked
// before calculation so a re-run of the same date is a no-op.
type AdjustmentMarker struct {
	AccountID     string    `json:"account_id"`
	Code          string    `json:"code"`
	EffectiveDate string    `json:"effective_date"` // YYYYMMDD
	RunID         string    `json:"run_id"`
	AppliedAt     time.Time `json:"applied_at"`
}

// Store is the ledger persistence interface.
type Store interface {
	// --- Accounts ---

	// ListAccounts returns all account identifiers.
	ListAccounts(ctx context.Context) ([]string, error)

	// GetAccount retrieves one account.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// SaveAccount creates or replaces an account document.
	SaveAccount(ctx context.Context, acct *model.Account) error

	// --- Positions ---

	// ListPositions returns all positions held by an account.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// UpsertPosition creates or replaces a position, keyed by
	// (account, instrument code).
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// --- Adjustments ---

	// HasAdjustment reports whether the marker for (account, code,
	// effective date) already exists.
	HasAdjustment(ctx context.Context, accountID, code, effectiveDate string) (bool, error)

	// ApplyAdjustment persists the outcome of one account's adjustment
	// as a single logical transaction: every updated position, the
	// account funds, and the idempotency markers land together. A reader
	// must never observe adjusted positions with stale account cash.
	ApplyAdjustment(ctx context.Context, accountID string, positions []model.Position, acct *model.Account, markers []AdjustmentMarker) error
}
