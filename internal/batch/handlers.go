package batch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
	"github.com/ptrader/corpact-engine/internal/store"
)

// TriggerRequest is the JSON body for POST /api/v1/reconcile. An empty
// as_of defaults to yesterday, matching the scheduled run.
type TriggerRequest struct {
	AsOf string `json:"as_of"` // YYYYMMDD
}

// CreateAccountRequest is the JSON body for POST /api/v1/accounts.
type CreateAccountRequest struct {
	AccountID string          `json:"account_id"` // empty → generated
	Capital   decimal.Decimal `json:"capital"`
}

// HandleTrigger handles POST /api/v1/reconcile — the ad hoc invocation
// path, sharing the one authoritative engine with the scheduled run.
func (r *Reconciler) HandleTrigger(w http.ResponseWriter, req *http.Request) {
	var body TriggerRequest
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	asOf := body.AsOf
	if asOf == "" {
		asOf = market.FormatTradeDate(time.Now().AddDate(0, 0, -1))
	}
	if _, err := market.ParseTradeDate(asOf); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("manual reconcile triggered", "as_of", asOf)

	report, err := r.Run(req.Context(), asOf)
	if errors.Is(err, ErrRunInProgress) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// HandleLatestRun handles GET /api/v1/runs/latest
func (r *Reconciler) HandleLatestRun(w http.ResponseWriter, req *http.Request) {
	report := r.LastReport()
	if report == nil {
		writeError(w, "no run has completed yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// HandleGetAccount handles GET /api/v1/accounts/{accountID}
func (r *Reconciler) HandleGetAccount(w http.ResponseWriter, req *http.Request) {
	accountID := chi.URLParam(req, "accountID")

	acct, err := r.store.GetAccount(req.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

// HandleListPositions handles GET /api/v1/accounts/{accountID}/positions
func (r *Reconciler) HandleListPositions(w http.ResponseWriter, req *http.Request) {
	accountID := chi.URLParam(req, "accountID")

	positions, err := r.store.ListPositions(req.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// HandleCreateAccount handles POST /api/v1/accounts — opens a simulated
// portfolio funded with the given capital.
func (r *Reconciler) HandleCreateAccount(w http.ResponseWriter, req *http.Request) {
	var body CreateAccountRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Capital.LessThanOrEqual(decimal.Zero) {
		writeError(w, "capital must be positive", http.StatusBadRequest)
		return
	}

	accountID := body.AccountID
	if accountID == "" {
		accountID = uuid.New().String()
	}

	acct := &model.Account{
		AccountID:   accountID,
		Assets:      body.Capital,
		Available:   body.Capital,
		MarketValue: decimal.Zero,
		Capital:     body.Capital,
		CostRate:    decimal.NewFromFloat(0.0003),
		TaxRate:     decimal.NewFromFloat(0.001),
		SlipPoint:   decimal.NewFromFloat(0.03),
	}

	if err := r.store.SaveAccount(req.Context(), acct); err != nil {
		writeError(w, "failed to save account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created", "account", accountID, "capital", body.Capital.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
