package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id   TEXT PRIMARY KEY,
			assets       NUMERIC NOT NULL DEFAULT 0,
			available    NUMERIC NOT NULL DEFAULT 0,
			market_value NUMERIC NOT NULL DEFAULT 0,
			capital      NUMERIC NOT NULL DEFAULT 0,
			cost         NUMERIC NOT NULL DEFAULT 0,
			tax          NUMERIC NOT NULL DEFAULT 0,
			slippoint    NUMERIC NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS positions (
			account_id TEXT NOT NULL,
			code       TEXT NOT NULL,
			exchange   TEXT NOT NULL,
			volume     BIGINT NOT NULL DEFAULT 0,
			available  BIGINT NOT NULL DEFAULT 0,
			avg_price  NUMERIC NOT NULL DEFAULT 0,
			now_price  NUMERIC NOT NULL DEFAULT 0,
			profit     NUMERIC NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, code)
		);
		CREATE TABLE IF NOT EXISTS adjustments (
			account_id     TEXT NOT NULL,
			code           TEXT NOT NULL,
			effective_date TEXT NOT NULL,
			run_id         TEXT NOT NULL,
			applied_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, code, effective_date)
		);
	`)
	return err
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	var assets, available, marketValue, capital, cost, tax, slip string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id,
		        assets::TEXT, available::TEXT, market_value::TEXT,
		        capital::TEXT, cost::TEXT, tax::TEXT, slippoint::TEXT
		 FROM accounts WHERE account_id = $1`, accountID).
		Scan(&a.AccountID, &assets, &available, &marketValue,
			&capital, &cost, &tax, &slip)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	a.Assets, _ = decimal.NewFromString(assets)
	a.Available, _ = decimal.NewFromString(available)
	a.MarketValue, _ = decimal.NewFromString(marketValue)
	a.Capital, _ = decimal.NewFromString(capital)
	a.CostRate, _ = decimal.NewFromString(cost)
	a.TaxRate, _ = decimal.NewFromString(tax)
	a.SlipPoint, _ = decimal.NewFromString(slip)

	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, assets, available, market_value, capital, cost, tax, slippoint)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
		 ON CONFLICT (account_id) DO UPDATE SET
			assets = EXCLUDED.assets,
			available = EXCLUDED.available,
			market_value = EXCLUDED.market_value,
			capital = EXCLUDED.capital,
			cost = EXCLUDED.cost,
			tax = EXCLUDED.tax,
			slippoint = EXCLUDED.slippoint`,
		a.AccountID, a.Assets.String(), a.Available.String(), a.MarketValue.String(),
		a.Capital.String(), a.CostRate.String(), a.TaxRate.String(), a.SlipPoint.String(),
	)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, code, exchange, volume, available,
		        avg_price::TEXT, now_price::TEXT, profit::TEXT
		 FROM positions WHERE account_id = $1 ORDER BY code`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var exchange, avgPrice, nowPrice, profit string
		if err := rows.Scan(&p.AccountID, &p.Code, &exchange,
			&p.Volume, &p.Available, &avgPrice, &nowPrice, &profit); err != nil {
			return nil, err
		}
		p.Exchange = market.Exchange(exchange)
		p.AvgPrice, _ = decimal.NewFromString(avgPrice)
		p.NowPrice, _ = decimal.NewFromString(nowPrice)
		p.Profit, _ = decimal.NewFromString(profit)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx, upsertPositionSQL,
		p.AccountID, p.Code, string(p.Exchange), p.Volume, p.Available,
		p.AvgPrice.String(), p.NowPrice.String(), p.Profit.String(),
	)
	return err
}

const upsertPositionSQL = `
	INSERT INTO positions (account_id, code, exchange, volume, available, avg_price, now_price, profit)
	VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
	ON CONFLICT (account_id, code) DO UPDATE SET
		exchange = EXCLUDED.exchange,
		volume = EXCLUDED.volume,
		available = EXCLUDED.available,
		avg_price = EXCLUDED.avg_price,
		now_price = EXCLUDED.now_price,
		profit = EXCLUDED.profit`

func (s *PostgresStore) HasAdjustment(ctx context.Context, accountID, code, effectiveDate string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM adjustments
			WHERE account_id = $1 AND code = $2 AND effective_date = $3
		 )`, accountID, code, effectiveDate).Scan(&exists)
	return exists, err
}

// ApplyAdjustment writes updated positions, the account funds, and the
// idempotency markers in one transaction.
func (s *PostgresStore) ApplyAdjustment(ctx context.Context, accountID string, positions []model.Position, a *model.Account, markers []AdjustmentMarker) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("apply adjustment %s: begin: %w", accountID, err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		if _, err := tx.Exec(ctx, upsertPositionSQL,
			p.AccountID, p.Code, string(p.Exchange), p.Volume, p.Available,
			p.AvgPrice.String(), p.NowPrice.String(), p.Profit.String(),
		); err != nil {
			return fmt.Errorf("apply adjustment %s: position %s: %w", accountID, p.Code, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET assets = $2::NUMERIC, available = $3::NUMERIC, market_value = $4::NUMERIC
		 WHERE account_id = $1`,
		accountID, a.Assets.String(), a.Available.String(), a.MarketValue.String(),
	); err != nil {
		return fmt.Errorf("apply adjustment %s: account: %w", accountID, err)
	}

	for _, m := range markers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO adjustments (account_id, code, effective_date, run_id, applied_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (account_id, code, effective_date) DO NOTHING`,
			m.AccountID, m.Code, m.EffectiveDate, m.RunID, m.AppliedAt,
		); err != nil {
			return fmt.Errorf("apply adjustment %s: marker %s: %w", accountID, m.Code, err)
		}
	}

	return tx.Commit(ctx)
}
