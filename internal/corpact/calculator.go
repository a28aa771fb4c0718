// Package corpact implements the corporate-action (ex-dividend/ex-rights)
// adjustment engine: detecting positions whose instrument crosses an
// effective date and recomputing volume, cost basis, and account cash.
//
// All prices and ratios use shopspring/decimal — never float64 for money.
// Share counts truncate toward zero; there is no rounding beyond that.
package corpact

import (
	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/model"
)

// Adjustment is the result of applying one corporate-action record to
// one position. It carries new values; the inputs are never mutated.
type Adjustment struct {
	Position model.Position
	Account  model.Account
	Signals  []model.AdjustmentSignal
}

// Applied reports whether the adjustment changed any state.
func (a Adjustment) Applied() bool {
	return len(a.Signals) > 0
}

// Calculate applies a corporate-action record to a position and its
// account, returning the adjusted copies plus audit signals.
//
// The order is fixed: stock dividend first, then cash dividend computed
// on the already-adjusted volume. Rights issues are a deliberate no-op —
// no formula is applied and no signal is emitted; operators handle them
// manually via the detection audit trail.
func Calculate(account model.Account, pos model.Position, rec model.CorporateActionRecord) Adjustment {
	tradeDate := rec.EffectiveDate()
	var signals []model.AdjustmentSignal

	// Stock dividend: ratio is shares granted per 10 held.
	if !rec.StockRatio.IsZero() {
		bonusShares := decimal.NewFromInt(pos.Volume).Mul(rec.StockRatio).Shift(-1).IntPart()

		pos.Volume += bonusShares
		// Bonus shares carry no lock-up: the whole holding is available.
		pos.Available = pos.Volume
		pos.AvgPrice = pos.AvgPrice.Div(decimal.NewFromInt(1).Add(rec.StockRatio.Shift(-1)))

		signals = append(signals, model.AdjustmentSignal{
			Kind:      model.SignalStockAdjust,
			Code:      pos.Code,
			Exchange:  pos.Exchange,
			TradeDate: tradeDate,
			Shares:    bonusShares,
			Tax:       decimal.Zero,
		})
	}

	// Cash dividend: ratio is cash per 10 held, applied to the volume
	// after any stock dividend above. The bonus truncates to a whole
	// currency unit, matching upstream settlement behavior.
	if !rec.CashRatio.IsZero() {
		bonus := decimal.NewFromInt(pos.Volume).Mul(rec.CashRatio).Shift(-1).IntPart()
		bonusCash := decimal.NewFromInt(bonus)

		account.Available = account.Available.Add(bonusCash)
		account.MarketValue = account.MarketValue.Sub(bonusCash)
		pos.AvgPrice = pos.AvgPrice.Sub(rec.CashRatio.Shift(-1))

		signals = append(signals, model.AdjustmentSignal{
			Kind:      model.SignalCashAdjust,
			Code:      pos.Code,
			Exchange:  pos.Exchange,
			TradeDate: tradeDate,
			Cash:      bonusCash,
			Tax:       decimal.Zero,
		})
	}

	// Rights issue: intentionally not computed.

	return Adjustment{
		Position: pos,
		Account:  account,
		Signals:  signals,
	}
}
