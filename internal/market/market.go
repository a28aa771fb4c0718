// Package market defines the set of supported trading venues and the
// mapping between venue identifiers and the wire codes used by the
// external market-data provider.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Exchange identifies a trading venue in the ledger's object model.
type Exchange string

const (
	// Shanghai is the Shanghai Stock Exchange.
	Shanghai Exchange = "SH"
	// Shenzhen is the Shenzhen Stock Exchange.
	Shenzhen Exchange = "SZ"
)

var (
	ErrUnknownExchange = errors.New("market: unknown exchange")
	ErrUnknownWireCode = errors.New("market: unknown wire code")
)

// wireCodes is the total mapping from exchange to the integer market
// code the data provider speaks. Kept bidirectional via wireExchanges.
var wireCodes = map[Exchange]int{
	Shanghai: 1,
	Shenzhen: 0,
}

var wireExchanges = func() map[int]Exchange {
	m := make(map[int]Exchange, len(wireCodes))
	for ex, code := range wireCodes {
		m[code] = ex
	}
	return m
}()

// Parse validates a raw exchange string from stored or external data.
func Parse(s string) (Exchange, error) {
	ex := Exchange(s)
	if _, ok := wireCodes[ex]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExchange, s)
	}
	return ex, nil
}

// WireCode returns the provider's integer market code for an exchange.
func WireCode(ex Exchange) (int, error) {
	code, ok := wireCodes[ex]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownExchange, string(ex))
	}
	return code, nil
}

// FromWireCode returns the exchange for a provider market code.
func FromWireCode(code int) (Exchange, error) {
	ex, ok := wireExchanges[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownWireCode, code)
	}
	return ex, nil
}

// Valid reports whether ex is a known exchange.
func (e Exchange) Valid() bool {
	_, ok := wireCodes[e]
	return ok
}

// TradeDateLayout is the compact date format used for effective dates
// and as-of dates throughout the engine.
const TradeDateLayout = "20060102"

// FormatTradeDate renders a time as a YYYYMMDD trade date.
func FormatTradeDate(t time.Time) string {
	return t.Format(TradeDateLayout)
}

// ParseTradeDate parses a YYYYMMDD trade date.
func ParseTradeDate(s string) (time.Time, error) {
	t, err := time.Parse(TradeDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("market: invalid trade date %q: %w", s, err)
	}
	return t, nil
}
