package corpact

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
	"github.com/ptrader/corpact-engine/internal/source"
)

// DefaultLookupWorkers bounds concurrent provider lookups per detector.
const DefaultLookupWorkers = 4

// Detector finds positions affected by a corporate action effective on
// the as-of date. One Detector serves one batch run: lookups are cached
// per (exchange, code), so an instrument held across many accounts hits
// the provider once.
type Detector struct {
	src     source.RecordSource
	asOf    string // YYYYMMDD
	workers int

	mu    sync.Mutex
	cache map[string]lookupResult
	stats DetectStats
}

// DetectStats aggregates data-quality counters across a detector's
// lifetime. Counted once per unique instrument.
type DetectStats struct {
	SkippedLookups   int // provider unavailable, instrument skipped
	MalformedRecords int // records dropped before matching
	AmbiguousRecords int // more than one match for (instrument, date)
}

type lookupResult struct {
	rec       *model.CorporateActionRecord
	err       error
	malformed int
	ambiguous bool
}

// NewDetector creates a detector for one as-of date. workers <= 0 uses
// DefaultLookupWorkers.
func NewDetector(src source.RecordSource, asOf string, workers int) *Detector {
	if workers <= 0 {
		workers = DefaultLookupWorkers
	}
	return &Detector{
		src:     src,
		asOf:    asOf,
		workers: workers,
		cache:   make(map[string]lookupResult),
	}
}

// Detect returns the positions affected on the as-of date, keyed by
// instrument code. Positions are scanned in slice order and records in
// provider order, so the result is a pure function of its inputs; when
// several records match one instrument the last one wins and the
// ambiguity is counted for audit.
//
// A provider failure for one instrument is treated as "no matching
// record" for that instrument only.
func (d *Detector) Detect(ctx context.Context, positions []model.Position) map[string]model.CorporateActionRecord {
	d.prefetch(ctx, positions)

	matches := make(map[string]model.CorporateActionRecord)
	for _, pos := range positions {
		res, ok := d.lookup(pos.Exchange, pos.Code)
		if !ok || res.err != nil || res.rec == nil {
			continue
		}
		matches[pos.Code] = *res.rec
	}
	return matches
}

// IsAffected reports whether any position matches a corporate action on
// the as-of date. Safe to call repeatedly; repeated calls with the same
// inputs yield the same answer.
func (d *Detector) IsAffected(ctx context.Context, positions []model.Position) bool {
	return len(d.Detect(ctx, positions)) > 0
}

// Stats returns the counters accumulated so far.
func (d *Detector) Stats() DetectStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// prefetch resolves all instruments not yet cached, bounded by the
// worker limit.
func (d *Detector) prefetch(ctx context.Context, positions []model.Position) {
	var pending []model.Position
	seen := make(map[string]bool)

	d.mu.Lock()
	for _, pos := range positions {
		key := lookupKey(pos.Exchange, pos.Code)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := d.cache[key]; !ok {
			pending = append(pending, pos)
		}
	}
	d.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, pos := range pending {
		wg.Add(1)
		sem <- struct{}{}
		go func(ex market.Exchange, code string) {
			defer wg.Done()
			defer func() { <-sem }()
			d.resolve(ctx, ex, code)
		}(pos.Exchange, pos.Code)
	}
	wg.Wait()
}

// resolve fetches one instrument's history, matches it against the
// as-of date, and caches the outcome.
func (d *Detector) resolve(ctx context.Context, ex market.Exchange, code string) {
	records, err := d.src.FetchCorporateActions(ctx, ex, code)

	res := lookupResult{err: err}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("corporate-action lookup unavailable, instrument skipped",
				"code", code, "exchange", ex, "err", err)
		}
	} else {
		res = d.match(records)
		if res.rec != nil {
			slog.Info("corporate action matched",
				"code", code,
				"exchange", ex,
				"effective_date", d.asOf,
				"stock_ratio", res.rec.StockRatio.String(),
				"cash_ratio", res.rec.CashRatio.String(),
			)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[lookupKey(ex, code)] = res
	if res.err != nil {
		d.stats.SkippedLookups++
	}
	d.stats.MalformedRecords += res.malformed
	if res.ambiguous {
		d.stats.AmbiguousRecords++
	}
}

// match filters one instrument's history down to the record effective
// on the as-of date with the handled category.
func (d *Detector) match(records []model.CorporateActionRecord) lookupResult {
	var res lookupResult
	for i := range records {
		rec := records[i]
		if !validRecord(rec) {
			res.malformed++
			slog.Warn("malformed corporate-action record dropped",
				"code", rec.Code, "exchange", rec.Exchange,
				"year", rec.Year, "month", rec.Month, "day", rec.Day)
			continue
		}
		if rec.Category != model.CategoryExDividend {
			continue
		}
		if rec.EffectiveDate() != d.asOf {
			continue
		}
		if res.rec != nil {
			res.ambiguous = true
		}
		res.rec = &rec
	}
	return res
}

// validRecord rejects records with implausible date fields or an
// unparseable exchange.
func validRecord(rec model.CorporateActionRecord) bool {
	if rec.Year < 1990 || rec.Month < 1 || rec.Month > 12 || rec.Day < 1 || rec.Day > 31 {
		return false
	}
	return rec.Exchange.Valid()
}

func lookupKey(ex market.Exchange, code string) string {
	return string(ex) + ":" + code
}

func (d *Detector) lookup(ex market.Exchange, code string) (lookupResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.cache[lookupKey(ex, code)]
	return res, ok
}
