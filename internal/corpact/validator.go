package corpact

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/model"
)

var (
	// ErrAvailableExceedsVolume is returned when a position's non-frozen
	// share count exceeds its total share count.
	ErrAvailableExceedsVolume = errors.New("corpact: available shares exceed total volume")

	// ErrNonPositiveAvgPrice is returned when a non-flat position ends up
	// with a zero or negative cost basis.
	ErrNonPositiveAvgPrice = errors.New("corpact: average cost price must be positive")

	// ErrAccountImbalance is returned when total assets drift from cash
	// plus market value beyond the allowed tolerance.
	ErrAccountImbalance = errors.New("corpact: account assets do not match cash plus market value")
)

// DefaultBalanceTolerance absorbs unrealized P&L timing between the
// last mark and the adjustment.
var DefaultBalanceTolerance = decimal.NewFromInt(1)

// Validator checks ledger invariants on calculated results before they
// are persisted. A violation fails the account, not the batch.
type Validator struct {
	// BalanceTolerance is the maximum allowed |assets - (cash + market value)|.
	BalanceTolerance decimal.Decimal
}

// NewValidator creates a validator with the given balance tolerance.
// A non-positive tolerance falls back to DefaultBalanceTolerance.
func NewValidator(tolerance decimal.Decimal) *Validator {
	if tolerance.LessThanOrEqual(decimal.Zero) {
		tolerance = DefaultBalanceTolerance
	}
	return &Validator{BalanceTolerance: tolerance}
}

// ValidatePosition checks the per-position invariants.
func (v *Validator) ValidatePosition(pos model.Position) error {
	if pos.Available > pos.Volume {
		return fmt.Errorf("%w: %s available=%d volume=%d",
			ErrAvailableExceedsVolume, pos.Symbol(), pos.Available, pos.Volume)
	}
	if pos.Volume != 0 && pos.AvgPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s avg_price=%s",
			ErrNonPositiveAvgPrice, pos.Symbol(), pos.AvgPrice)
	}
	return nil
}

// ValidateAccount checks that assets stay consistent with cash plus
// market value within the tolerance.
func (v *Validator) ValidateAccount(acct model.Account) error {
	drift := acct.Assets.Sub(acct.Available.Add(acct.MarketValue)).Abs()
	if drift.GreaterThan(v.BalanceTolerance) {
		return fmt.Errorf("%w: %s assets=%s available=%s market_value=%s",
			ErrAccountImbalance, acct.AccountID,
			acct.Assets, acct.Available, acct.MarketValue)
	}
	return nil
}

// Validate checks a full adjustment result.
func (v *Validator) Validate(adj Adjustment) error {
	if err := v.ValidatePosition(adj.Position); err != nil {
		return err
	}
	return v.ValidateAccount(adj.Account)
}
