// Package source provides access to the external market-data provider
// that serves corporate-action histories. Implementations include an
// HTTP client, a Redis read-through cache, and an in-memory source for
// testing.
package source

import (
	"context"
	"errors"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
)

// ErrUnavailable is returned when the provider cannot be reached or
// answers with a non-success status. Callers treat it as "no matching
// record" for the affected instrument and report the skip.
var ErrUnavailable = errors.New("source: record source unavailable")

// RecordSource fetches the full corporate-action history for one
// instrument. No pagination: callers filter client-side.
type RecordSource interface {
	FetchCorporateActions(ctx context.Context, ex market.Exchange, code string) ([]model.CorporateActionRecord, error)
}
