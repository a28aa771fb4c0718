// Package model defines the core domain types shared across the adjustment
// engine. All prices, ratios, and cash amounts use shopspring/decimal —
// never float64 for money. Share counts are plain int64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
)

// Position is one holding within one account.
// Invariant: Available <= Volume; AvgPrice > 0 unless Volume == 0.
type Position struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Code      string          `json:"code" db:"code"`
	Exchange  market.Exchange `json:"exchange" db:"exchange"`
	Volume    int64           `json:"volume" db:"volume"`       // total shares held
	Available int64           `json:"available" db:"available"` // non-frozen shares
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"` // per-share cost basis
	NowPrice  decimal.Decimal `json:"now_price" db:"now_price"` // last mark
	Profit    decimal.Decimal `json:"profit" db:"profit"`       // unrealized P&L at last mark
}

// Symbol returns the combined instrument symbol, e.g. "600372.SH".
func (p Position) Symbol() string {
	return fmt.Sprintf("%s.%s", p.Code, p.Exchange)
}

// Account is one simulated portfolio.
// Invariant: Assets ≈ Available + MarketValue within a small tolerance
// (unrealized P&L timing).
type Account struct {
	AccountID   string          `json:"account_id" db:"account_id"`
	Assets      decimal.Decimal `json:"assets" db:"assets"`             // total assets
	Available   decimal.Decimal `json:"available" db:"available"`       // free cash
	MarketValue decimal.Decimal `json:"market_value" db:"market_value"` // value of holdings
	Capital     decimal.Decimal `json:"capital" db:"capital"`           // initial funding
	CostRate    decimal.Decimal `json:"cost" db:"cost"`                 // trading cost rate
	TaxRate     decimal.Decimal `json:"tax" db:"tax"`
	SlipPoint   decimal.Decimal `json:"slippoint" db:"slippoint"`
}

// CategoryExDividend is the corporate-action category handled
// computationally. Records with any other category are ignored during
// detection.
const CategoryExDividend = 1

// CorporateActionRecord is one dated event for one instrument, sourced
// externally. Read-only: fetched per run, never mutated or persisted.
type CorporateActionRecord struct {
	Code     string          `json:"code"`
	Exchange market.Exchange `json:"exchange"`
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	Day      int             `json:"day"`
	Category int             `json:"category"`

	StockRatio  decimal.Decimal `json:"songzhuangu"` // bonus shares per 10 held
	CashRatio   decimal.Decimal `json:"fenhong"`     // cash per 10 held
	RightsRatio decimal.Decimal `json:"peigu"`       // rights shares per 10 held
	RightsPrice decimal.Decimal `json:"peigujia"`    // rights subscription price
}

// EffectiveDate returns the record's effective date as YYYYMMDD.
func (r CorporateActionRecord) EffectiveDate() string {
	return fmt.Sprintf("%04d%02d%02d", r.Year, r.Month, r.Day)
}

// IsRightsOnly reports whether the record carries only a rights issue,
// which is detected for audit but never computed.
func (r CorporateActionRecord) IsRightsOnly() bool {
	return r.StockRatio.IsZero() && r.CashRatio.IsZero() &&
		!r.RightsRatio.IsZero() && !r.RightsPrice.IsZero()
}

// Signal kinds, carrying the wire codes of the upstream trading system.
const (
	SignalStockAdjust = 220010 // bonus/converted shares credited
	SignalCashAdjust  = 221007 // cash dividend credited
)

// AdjustmentSignal is an audit record of one applied adjustment. Produced
// by the calculator, never persisted by the engine; the caller decides
// whether to log or broadcast it.
type AdjustmentSignal struct {
	ID        string          `json:"id"`
	Kind      int             `json:"signal"`
	Code      string          `json:"symbol"`
	Exchange  market.Exchange `json:"market"`
	TradeDate string          `json:"tdate"` // YYYYMMDD effective date
	Shares    int64           `json:"stkeffeft"`
	Cash      decimal.Decimal `json:"cash"`
	Tax       decimal.Decimal `json:"tax"` // always zero today
}

// AccountFailure records one account that could not be fully processed.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

// RunReport is the per-run completion summary of the batch reconciler.
type RunReport struct {
	RunID     string        `json:"run_id"`
	AsOf      string        `json:"as_of"` // YYYYMMDD
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	AccountsProcessed  int `json:"accounts_processed"`
	AccountsAdjusted   int `json:"accounts_adjusted"`
	AccountsUnaffected int `json:"accounts_unaffected"`
	AccountsFailed     int `json:"accounts_failed"`
	AdjustmentsSkipped int `json:"adjustments_skipped"` // idempotency guard hits
	SkippedLookups     int `json:"skipped_lookups"`     // provider unavailable
	MalformedRecords   int `json:"malformed_records"`
	AmbiguousRecords   int `json:"ambiguous_records"` // >1 match per (code, date)
	RightsPending      int `json:"rights_pending"`    // detected, not computed

	Failures []AccountFailure `json:"failures,omitempty"`
}
