package source_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/source"
)

const xdxrBody = `[
	{"year":2020,"month":8,"day":17,"category":1,"songzhuangu":"3","fenhong":"0","peigu":"0","peigujia":"0"},
	{"year":2019,"month":6,"day":28,"category":1,"songzhuangu":"0","fenhong":"4.5","peigu":"0","peigujia":"0"}
]`

func TestHTTPSource_Fetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(xdxrBody))
	}))
	defer srv.Close()

	src := source.NewHTTPSource(srv.URL, 5*time.Second)
	records, err := src.FetchCorporateActions(context.Background(), market.Shanghai, "600372")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// Shanghai maps to wire code 1.
	if gotPath != "/api/v1/xdxr/1/600372" {
		t.Errorf("unexpected request path %s", gotPath)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	rec := records[0]
	if rec.Code != "600372" || rec.Exchange != market.Shanghai {
		t.Errorf("instrument not stamped onto record: %s.%s", rec.Code, rec.Exchange)
	}
	if rec.Year != 2020 || rec.Month != 8 || rec.Day != 17 {
		t.Errorf("unexpected date %d-%d-%d", rec.Year, rec.Month, rec.Day)
	}
	if !rec.StockRatio.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected stock ratio 3, got %s", rec.StockRatio)
	}
	if !records[1].CashRatio.Equal(decimal.NewFromFloat(4.5)) {
		t.Errorf("expected cash ratio 4.5, got %s", records[1].CashRatio)
	}
}

func TestHTTPSource_ShenzhenWireCode(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	src := source.NewHTTPSource(srv.URL, 5*time.Second)
	if _, err := src.FetchCorporateActions(context.Background(), market.Shenzhen, "000001"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// Shenzhen maps to wire code 0.
	if gotPath != "/api/v1/xdxr/0/000001" {
		t.Errorf("unexpected request path %s", gotPath)
	}
}

func TestHTTPSource_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := source.NewHTTPSource(srv.URL, 5*time.Second)
	_, err := src.FetchCorporateActions(context.Background(), market.Shanghai, "600372")
	if !errors.Is(err, source.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPSource_BadPayloadIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	src := source.NewHTTPSource(srv.URL, 5*time.Second)
	_, err := src.FetchCorporateActions(context.Background(), market.Shanghai, "600372")
	if !errors.Is(err, source.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPSource_UnknownExchangeRejected(t *testing.T) {
	src := source.NewHTTPSource("http://localhost:0", time.Second)

	_, err := src.FetchCorporateActions(context.Background(), market.Exchange("HK"), "00700")
	if !errors.Is(err, market.ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}
}
