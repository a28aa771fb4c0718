package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
)

// HTTPSource talks to the market-data provider over HTTP. The provider
// keys instruments by its integer wire market code, so requests go out
// as GET {base}/api/v1/xdxr/{wireCode}/{instrumentCode}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a provider client with a per-request timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// wireRecord is the provider's corporate-action payload shape.
type wireRecord struct {
	Year     int `json:"year"`
	Month    int `json:"month"`
	Day      int `json:"day"`
	Category int `json:"category"`

	StockRatio  decimal.Decimal `json:"songzhuangu"`
	CashRatio   decimal.Decimal `json:"fenhong"`
	RightsRatio decimal.Decimal `json:"peigu"`
	RightsPrice decimal.Decimal `json:"peigujia"`
}

func (s *HTTPSource) FetchCorporateActions(ctx context.Context, ex market.Exchange, code string) ([]model.CorporateActionRecord, error) {
	wireCode, err := market.WireCode(ex)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/xdxr/%d/%s", s.baseURL, wireCode, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrUnavailable, code, ex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s.%s: status %d", ErrUnavailable, code, ex, resp.StatusCode)
	}

	var wire []wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: decode: %v", ErrUnavailable, code, ex, err)
	}

	records := make([]model.CorporateActionRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, model.CorporateActionRecord{
			Code:        code,
			Exchange:    ex,
			Year:        w.Year,
			Month:       w.Month,
			Day:         w.Day,
			Category:    w.Category,
			StockRatio:  w.StockRatio,
			CashRatio:   w.CashRatio,
			RightsRatio: w.RightsRatio,
			RightsPrice: w.RightsPrice,
		})
	}
	return records, nil
}
