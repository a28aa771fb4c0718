// Package batch orchestrates the daily corporate-action reconciliation:
// for every account, detect affected positions, calculate adjustments,
// and persist the updated ledger state, producing a per-run report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ptrader/corpact-engine/internal/corpact"
	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/metrics"
	"github.com/ptrader/corpact-engine/internal/model"
	"github.com/ptrader/corpact-engine/internal/source"
	"github.com/ptrader/corpact-engine/internal/store"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing. One run is one pass; overlapping runs would race on
// account documents.
var ErrRunInProgress = errors.New("batch: a run is already in progress")

// Options tunes a Reconciler. Zero values fall back to defaults.
type Options struct {
	LookupWorkers int           // concurrent provider lookups (default 4)
	RetryAttempts int           // persistence attempts per account (default 3)
	RetryBackoff  time.Duration // initial backoff, doubled per attempt (default 100ms)
}

// Reconciler runs the corporate-action adjustment batch. Calculation and
// persistence are serialized per account; provider lookups are bounded
// and deduplicated by the per-run detector.
type Reconciler struct {
	store     store.Store
	src       source.RecordSource
	hub       *Hub // optional; nil disables broadcasting
	validator *corpact.Validator

	lookupWorkers int
	retryAttempts int
	retryBackoff  time.Duration

	runMu sync.Mutex // serializes runs

	mu         sync.RWMutex
	lastReport *model.RunReport
}

// NewReconciler creates a reconciler. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewReconciler(st store.Store, src source.RecordSource, hub *Hub, opts Options) *Reconciler {
	if opts.LookupWorkers <= 0 {
		opts.LookupWorkers = corpact.DefaultLookupWorkers
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &Reconciler{
		store:         st,
		src:           src,
		hub:           hub,
		validator:     corpact.NewValidator(corpact.DefaultBalanceTolerance),
		lookupWorkers: opts.LookupWorkers,
		retryAttempts: opts.RetryAttempts,
		retryBackoff:  opts.RetryBackoff,
	}
}

// Run executes one batch pass for the given as-of date (YYYYMMDD) and
// returns the completion report. A failing account never aborts the
// batch for other accounts.
func (r *Reconciler) Run(ctx context.Context, asOf string) (*model.RunReport, error) {
	if _, err := market.ParseTradeDate(asOf); err != nil {
		return nil, err
	}
	if !r.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	report := &model.RunReport{
		RunID:     uuid.New().String(),
		AsOf:      asOf,
		StartedAt: time.Now().UTC(),
	}
	slog.Info("adjustment run started", "run_id", report.RunID, "as_of", asOf)

	detector := corpact.NewDetector(r.src, asOf, r.lookupWorkers)

	accountIDs, err := r.store.ListAccounts(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			r.failAccount(report, accountID, fmt.Errorf("run deadline exceeded: %w", ctx.Err()))
			continue
		}
		r.processAccount(ctx, detector, asOf, accountID, report)
	}

	stats := detector.Stats()
	report.SkippedLookups = stats.SkippedLookups
	report.MalformedRecords = stats.MalformedRecords
	report.AmbiguousRecords = stats.AmbiguousRecords
	report.Duration = time.Since(report.StartedAt)

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.Observe(report.Duration.Seconds())
	metrics.SkippedLookups.Add(float64(stats.SkippedLookups))
	metrics.MalformedRecords.Add(float64(stats.MalformedRecords))
	metrics.LastRunSuccessTimestamp.SetToCurrentTime()

	slog.Info("adjustment run completed",
		"run_id", report.RunID,
		"as_of", asOf,
		"processed", report.AccountsProcessed,
		"adjusted", report.AccountsAdjusted,
		"unaffected", report.AccountsUnaffected,
		"failed", report.AccountsFailed,
		"skipped_lookups", report.SkippedLookups,
		"rights_pending", report.RightsPending,
		"duration", report.Duration.String(),
	)

	if r.hub != nil {
		r.hub.Broadcast(Event{Type: EventRunCompleted, RunID: report.RunID, Report: report})
	}

	r.mu.Lock()
	r.lastReport = report
	r.mu.Unlock()

	return report, nil
}

// RunForYesterday runs the batch with the default as-of date: the day
// before now. This is the scheduled entry point.
func (r *Reconciler) RunForYesterday(ctx context.Context) (*model.RunReport, error) {
	asOf := market.FormatTradeDate(time.Now().AddDate(0, 0, -1))
	return r.Run(ctx, asOf)
}

// LastReport returns the report of the most recent completed run, or
// nil if none has completed yet.
func (r *Reconciler) LastReport() *model.RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastReport == nil {
		return nil
	}
	copy := *r.lastReport
	return &copy
}

// processAccount runs detection, calculation, and persistence for one
// account. Account state flows Idle → Detecting → Adjusting → Persisted,
// or ends Unaffected with no write.
func (r *Reconciler) processAccount(ctx context.Context, detector *corpact.Detector, asOf, accountID string, report *model.RunReport) {
	report.AccountsProcessed++

	positions, err := r.store.ListPositions(ctx, accountID)
	if err != nil {
		r.failAccount(report, accountID, fmt.Errorf("list positions: %w", err))
		return
	}
	if len(positions) == 0 {
		r.markUnaffected(report)
		return
	}

	matches := detector.Detect(ctx, positions)
	if len(matches) == 0 {
		r.markUnaffected(report)
		return
	}

	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		r.failAccount(report, accountID, fmt.Errorf("get account: %w", err))
		return
	}

	// Account cash accumulates across this account's affected positions,
	// so the running state is threaded through each calculation.
	acctState := *acct
	var (
		updated []model.Position
		markers []store.AdjustmentMarker
		signals []model.AdjustmentSignal
	)

	for _, pos := range positions {
		rec, ok := matches[pos.Code]
		if !ok {
			continue
		}

		if !rec.RightsRatio.IsZero() && !rec.RightsPrice.IsZero() {
			// Rights issues are surfaced for manual review, never computed.
			report.RightsPending++
			metrics.RightsPending.Inc()
			slog.Info("rights issue pending manual review",
				"account", accountID, "code", pos.Code,
				"ratio", rec.RightsRatio.String(), "price", rec.RightsPrice.String())
			if r.hub != nil {
				r.hub.Broadcast(Event{Type: EventRightsPending, AccountID: accountID, Code: pos.Code})
			}
		}

		applied, err := r.store.HasAdjustment(ctx, accountID, pos.Code, asOf)
		if err != nil {
			r.failAccount(report, accountID, fmt.Errorf("check adjustment marker %s: %w", pos.Code, err))
			return
		}
		if applied {
			report.AdjustmentsSkipped++
			slog.Info("adjustment already applied, skipping",
				"account", accountID, "code", pos.Code, "as_of", asOf)
			continue
		}

		adj := corpact.Calculate(acctState, pos, rec)
		if !adj.Applied() {
			continue
		}
		if err := r.validator.Validate(adj); err != nil {
			r.failAccount(report, accountID, fmt.Errorf("invariant violation for %s: %w", pos.Code, err))
			return
		}

		acctState = adj.Account
		updated = append(updated, adj.Position)
		markers = append(markers, store.AdjustmentMarker{
			AccountID:     accountID,
			Code:          pos.Code,
			EffectiveDate: asOf,
			RunID:         report.RunID,
			AppliedAt:     time.Now().UTC(),
		})
		for i := range adj.Signals {
			adj.Signals[i].ID = uuid.New().String()
		}
		signals = append(signals, adj.Signals...)
	}

	if len(updated) == 0 {
		r.markUnaffected(report)
		return
	}

	if err := r.persistWithRetry(ctx, accountID, updated, &acctState, markers); err != nil {
		r.failAccount(report, accountID, fmt.Errorf("persist: %w", err))
		return
	}

	report.AccountsAdjusted++
	metrics.AccountsProcessed.WithLabelValues("adjusted").Inc()

	for _, sig := range signals {
		kind := "cash"
		if sig.Kind == model.SignalStockAdjust {
			kind = "stock"
		}
		metrics.AdjustmentsApplied.WithLabelValues(kind).Inc()
		slog.Info("adjustment applied",
			"account", accountID,
			"code", sig.Code,
			"kind", kind,
			"shares", sig.Shares,
			"cash", sig.Cash.String(),
			"as_of", asOf,
		)
		if r.hub != nil {
			sig := sig
			r.hub.Broadcast(Event{Type: EventAdjustment, RunID: report.RunID, AccountID: accountID, Signal: &sig})
		}
	}
}

// persistWithRetry applies one account's adjustment with bounded
// backoff. Store failures isolate to the account.
func (r *Reconciler) persistWithRetry(ctx context.Context, accountID string, positions []model.Position, acct *model.Account, markers []store.AdjustmentMarker) error {
	backoff := r.retryBackoff
	var err error

	for attempt := 1; attempt <= r.retryAttempts; attempt++ {
		err = r.store.ApplyAdjustment(ctx, accountID, positions, acct, markers)
		if err == nil {
			return nil
		}
		slog.Warn("adjustment persistence failed",
			"account", accountID, "attempt", attempt, "err", err)

		if attempt == r.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (r *Reconciler) markUnaffected(report *model.RunReport) {
	report.AccountsUnaffected++
	metrics.AccountsProcessed.WithLabelValues("unaffected").Inc()
}

func (r *Reconciler) failAccount(report *model.RunReport, accountID string, err error) {
	report.AccountsFailed++
	report.Failures = append(report.Failures, model.AccountFailure{
		AccountID: accountID,
		Reason:    err.Error(),
	})
	metrics.AccountsProcessed.WithLabelValues("failed").Inc()
	slog.Error("account adjustment failed", "account", accountID, "err", err)
}
