// Package storage persists the trading state in SQLite (pure Go, no CGo).
//
// Layout:
//   - `store`: the singleton operator record (tunables + last balances).
//   - `opening_flows`, `open_positions`, `closing_flows`, `close_positions`:
//     append-only records keyed by surrogate id; only status/fill/profit
//     fields mutate after creation, each in a single statement so a restart
//     never observes a half-updated entity.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arsanchez/arbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS store (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    buying_value   REAL NOT NULL DEFAULT 0,
    selling_value  REAL NOT NULL DEFAULT 0,
    buying_profit  REAL NOT NULL DEFAULT 0,
    selling_profit REAL NOT NULL DEFAULT 0,
    buying_fx_rate  REAL NOT NULL DEFAULT 0,
    selling_fx_rate REAL NOT NULL DEFAULT 0,
    fiat_warning   REAL NOT NULL DEFAULT 0,
    fiat_stop      REAL NOT NULL DEFAULT 0,
    crypto_warning REAL NOT NULL DEFAULT 0,
    crypto_stop    REAL NOT NULL DEFAULT 0,
    hold           INTEGER NOT NULL DEFAULT 0,
    maker_fiat     REAL NOT NULL DEFAULT 0,
    maker_crypto   REAL NOT NULL DEFAULT 0,
    taker_fiat     REAL NOT NULL DEFAULT 0,
    taker_crypto   REAL NOT NULL DEFAULT 0,
    last_warning   DATETIME
);

CREATE TABLE IF NOT EXISTS opening_flows (
    id           TEXT PRIMARY KEY,
    side         TEXT NOT NULL,
    price        REAL NOT NULL,
    value        REAL NOT NULL,
    suggested_closing_price REAL NOT NULL,
    status       TEXT NOT NULL,
    order_id     TEXT NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS open_positions (
    id              TEXT PRIMARY KEY,
    side            TEXT NOT NULL,
    trade_id        TEXT NOT NULL UNIQUE,
    price           REAL NOT NULL,
    amount          REAL NOT NULL,
    quantity        REAL NOT NULL,
    opening_flow_id TEXT NOT NULL REFERENCES opening_flows(id),
    closing_flow_id TEXT,
    created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS closing_flows (
    id            TEXT PRIMARY KEY,
    side          TEXT NOT NULL,
    quantity      REAL NOT NULL,
    desired_price REAL NOT NULL,
    amount        REAL NOT NULL,
    crypto_profit REAL NOT NULL DEFAULT 0,
    fiat_profit   REAL NOT NULL DEFAULT 0,
    fx_rate       REAL NOT NULL DEFAULT 0,
    done          INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS close_positions (
    id              TEXT PRIMARY KEY,
    closing_flow_id TEXT NOT NULL REFERENCES closing_flows(id),
    order_id        TEXT NOT NULL,
    amount          REAL NOT NULL DEFAULT 0,
    quantity        REAL NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opening_side_status ON opening_flows(side, status);
CREATE INDEX IF NOT EXISTS idx_opening_order      ON opening_flows(order_id);
CREATE INDEX IF NOT EXISTS idx_positions_claim    ON open_positions(side, closing_flow_id);
CREATE INDEX IF NOT EXISTS idx_closing_side_done  ON closing_flows(side, done);
CREATE INDEX IF NOT EXISTS idx_close_pos_flow     ON close_positions(closing_flow_id, created_at);
`

// SQLiteRepository implements ports.Repository on a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteRepository: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteRepository: apply schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

// --- store singleton ---

// LoadStore reads the operator record, creating the default one on first use.
func (r *SQLiteRepository) LoadStore(ctx context.Context) (domain.Store, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO store (id) VALUES (1)`,
	); err != nil {
		return domain.Store{}, fmt.Errorf("storage.LoadStore: ensure row: %w", err)
	}

	var s domain.Store
	var hold int
	var lastWarning sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT buying_value, selling_value, buying_profit, selling_profit,
		       buying_fx_rate, selling_fx_rate,
		       fiat_warning, fiat_stop, crypto_warning, crypto_stop,
		       hold, maker_fiat, maker_crypto, taker_fiat, taker_crypto,
		       last_warning
		FROM store WHERE id = 1
	`).Scan(
		&s.BuyingValue, &s.SellingValue, &s.BuyingProfit, &s.SellingProfit,
		&s.BuyingFxRate, &s.SellingFxRate,
		&s.FiatWarning, &s.FiatStop, &s.CryptoWarning, &s.CryptoStop,
		&hold, &s.MakerFiat, &s.MakerCrypto, &s.TakerFiat, &s.TakerCrypto,
		&lastWarning,
	)
	if err != nil {
		return domain.Store{}, fmt.Errorf("storage.LoadStore: %w", err)
	}
	s.Hold = hold == 1
	if lastWarning.Valid {
		s.LastWarning, _ = time.Parse(time.RFC3339, lastWarning.String)
	}
	return s, nil
}

// SaveBalances records the last known venue balances.
func (r *SQLiteRepository) SaveBalances(ctx context.Context, makerFiat, makerCrypto, takerFiat, takerCrypto float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE store SET maker_fiat = ?, maker_crypto = ?, taker_fiat = ?, taker_crypto = ?
		WHERE id = 1
	`, makerFiat, makerCrypto, takerFiat, takerCrypto)
	if err != nil {
		return fmt.Errorf("storage.SaveBalances: %w", err)
	}
	return nil
}

// TouchWarning stamps the last balance-warning time.
func (r *SQLiteRepository) TouchWarning(ctx context.Context, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE store SET last_warning = ? WHERE id = 1`, at.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("storage.TouchWarning: %w", err)
	}
	return nil
}

// --- opening flows ---

func (r *SQLiteRepository) CreateOpeningFlow(ctx context.Context, flow domain.OpeningFlow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opening_flows
			(id, side, price, value, suggested_closing_price, status, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, flow.ID, string(flow.Side), flow.Price, flow.Value, flow.SuggestedClosingPrice,
		string(flow.Status), flow.OrderID, flow.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.CreateOpeningFlow: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ActiveOpeningFlows(ctx context.Context, side domain.Side) ([]domain.OpeningFlow, error) {
	return r.queryOpeningFlows(ctx, `
		SELECT id, side, price, value, suggested_closing_price, status, order_id, created_at
		FROM opening_flows WHERE side = ? AND status != ? ORDER BY created_at
	`, string(side), string(domain.StatusFinalised))
}

func (r *SQLiteRepository) ActiveOpeningFlowsBefore(ctx context.Context, side domain.Side, createdBefore time.Time) ([]domain.OpeningFlow, error) {
	return r.queryOpeningFlows(ctx, `
		SELECT id, side, price, value, suggested_closing_price, status, order_id, created_at
		FROM opening_flows WHERE side = ? AND status != ? AND created_at < ? ORDER BY created_at
	`, string(side), string(domain.StatusFinalised), createdBefore.UTC())
}

func (r *SQLiteRepository) RecentOpeningFlowExists(ctx context.Context, side domain.Side, createdAfter time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM opening_flows WHERE side = ? AND created_at >= ?
	`, string(side), createdAfter.UTC()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.RecentOpeningFlowExists: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) OpeningFlowByOrderID(ctx context.Context, orderID string) (domain.OpeningFlow, error) {
	flows, err := r.queryOpeningFlows(ctx, `
		SELECT id, side, price, value, suggested_closing_price, status, order_id, created_at
		FROM opening_flows WHERE order_id = ?
	`, orderID)
	if err != nil {
		return domain.OpeningFlow{}, err
	}
	if len(flows) == 0 {
		return domain.OpeningFlow{}, fmt.Errorf("storage.OpeningFlowByOrderID %q: %w", orderID, sql.ErrNoRows)
	}
	return flows[0], nil
}

func (r *SQLiteRepository) OpeningFlowByID(ctx context.Context, id string) (domain.OpeningFlow, error) {
	flows, err := r.queryOpeningFlows(ctx, `
		SELECT id, side, price, value, suggested_closing_price, status, order_id, created_at
		FROM opening_flows WHERE id = ?
	`, id)
	if err != nil {
		return domain.OpeningFlow{}, err
	}
	if len(flows) == 0 {
		return domain.OpeningFlow{}, fmt.Errorf("storage.OpeningFlowByID %q: %w", id, sql.ErrNoRows)
	}
	return flows[0], nil
}

func (r *SQLiteRepository) UpdateOpeningFlowStatus(ctx context.Context, id string, status domain.FlowStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE opening_flows SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("storage.UpdateOpeningFlowStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateOpeningFlowStatus %q: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (r *SQLiteRepository) queryOpeningFlows(ctx context.Context, query string, args ...any) ([]domain.OpeningFlow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query opening flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.OpeningFlow
	for rows.Next() {
		var f domain.OpeningFlow
		var side, status string
		if err := rows.Scan(&f.ID, &side, &f.Price, &f.Value, &f.SuggestedClosingPrice,
			&status, &f.OrderID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan opening flow: %w", err)
		}
		f.Side = domain.Side(side)
		f.Status = domain.FlowStatus(status)
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// --- open positions ---

func (r *SQLiteRepository) CreateOpenPosition(ctx context.Context, pos domain.OpenPosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO open_positions
			(id, side, trade_id, price, amount, quantity, opening_flow_id, closing_flow_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, pos.ID, string(pos.Side), pos.TradeID, pos.Price, pos.Amount, pos.Quantity,
		pos.OpeningFlowID, pos.ClosingFlowID, pos.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.CreateOpenPosition: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PositionExistsForTrade(ctx context.Context, tradeID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM open_positions WHERE trade_id = ?`, tradeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.PositionExistsForTrade: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) LatestOpenPosition(ctx context.Context, side domain.Side) (domain.OpenPosition, bool, error) {
	positions, err := r.queryPositions(ctx, `
		SELECT id, side, trade_id, price, amount, quantity, opening_flow_id,
		       COALESCE(closing_flow_id, ''), created_at
		FROM open_positions WHERE side = ? ORDER BY created_at DESC LIMIT 1
	`, string(side))
	if err != nil {
		return domain.OpenPosition{}, false, err
	}
	if len(positions) == 0 {
		return domain.OpenPosition{}, false, nil
	}
	return positions[0], true, nil
}

func (r *SQLiteRepository) UnclaimedPositions(ctx context.Context, side domain.Side) ([]domain.OpenPosition, error) {
	return r.queryPositions(ctx, `
		SELECT id, side, trade_id, price, amount, quantity, opening_flow_id,
		       COALESCE(closing_flow_id, ''), created_at
		FROM open_positions WHERE side = ? AND closing_flow_id IS NULL ORDER BY created_at
	`, string(side))
}

func (r *SQLiteRepository) PositionsByClosingFlow(ctx context.Context, closingFlowID string) ([]domain.OpenPosition, error) {
	return r.queryPositions(ctx, `
		SELECT id, side, trade_id, price, amount, quantity, opening_flow_id,
		       COALESCE(closing_flow_id, ''), created_at
		FROM open_positions WHERE closing_flow_id = ? ORDER BY created_at
	`, closingFlowID)
}

func (r *SQLiteRepository) AnyOpenPositions(ctx context.Context) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM open_positions WHERE closing_flow_id IS NULL`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.AnyOpenPositions: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) queryPositions(ctx context.Context, query string, args ...any) ([]domain.OpenPosition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.OpenPosition
	for rows.Next() {
		var p domain.OpenPosition
		var side string
		if err := rows.Scan(&p.ID, &side, &p.TradeID, &p.Price, &p.Amount, &p.Quantity,
			&p.OpeningFlowID, &p.ClosingFlowID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan position: %w", err)
		}
		p.Side = domain.Side(side)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- closing flows ---

// CreateClosingFlow inserts the flow, claims the given positions, and records
// the first close position in one transaction, so a crash can never leave
// claimed positions without their flow.
func (r *SQLiteRepository) CreateClosingFlow(ctx context.Context, flow domain.ClosingFlow, positionIDs []string, first domain.ClosePosition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.CreateClosingFlow: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO closing_flows (id, side, quantity, desired_price, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, flow.ID, string(flow.Side), flow.Quantity, flow.DesiredPrice, flow.Amount,
		flow.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("storage.CreateClosingFlow: insert flow: %w", err)
	}

	for _, id := range positionIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE open_positions SET closing_flow_id = ? WHERE id = ? AND closing_flow_id IS NULL
		`, flow.ID, id)
		if err != nil {
			return fmt.Errorf("storage.CreateClosingFlow: claim position %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage.CreateClosingFlow: position %s already claimed", id)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO close_positions (id, closing_flow_id, order_id, created_at)
		VALUES (?, ?, ?, ?)
	`, first.ID, first.ClosingFlowID, first.OrderID, first.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("storage.CreateClosingFlow: insert close position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.CreateClosingFlow: commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ActiveClosingFlows(ctx context.Context, side domain.Side) ([]domain.ClosingFlow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, side, quantity, desired_price, amount, crypto_profit, fiat_profit,
		       fx_rate, done, created_at
		FROM closing_flows WHERE side = ? AND done = 0 ORDER BY created_at
	`, string(side))
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveClosingFlows: %w", err)
	}
	defer rows.Close()

	var flows []domain.ClosingFlow
	for rows.Next() {
		var f domain.ClosingFlow
		var sideStr string
		var done int
		if err := rows.Scan(&f.ID, &sideStr, &f.Quantity, &f.DesiredPrice, &f.Amount,
			&f.CryptoProfit, &f.FiatProfit, &f.FxRate, &done, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.ActiveClosingFlows: scan: %w", err)
		}
		f.Side = domain.Side(sideStr)
		f.Done = done == 1
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// FinaliseClosingFlow books the profit figures and flips the monotonic done
// flag. A flow already done is left untouched.
func (r *SQLiteRepository) FinaliseClosingFlow(ctx context.Context, id string, cryptoProfit, fiatProfit, fxRate float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE closing_flows SET crypto_profit = ?, fiat_profit = ?, fx_rate = ?, done = 1
		WHERE id = ? AND done = 0
	`, cryptoProfit, fiatProfit, fxRate, id)
	if err != nil {
		return fmt.Errorf("storage.FinaliseClosingFlow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.FinaliseClosingFlow %q: %w", id, sql.ErrNoRows)
	}
	return nil
}

// --- close positions ---

func (r *SQLiteRepository) CreateClosePosition(ctx context.Context, pos domain.ClosePosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO close_positions (id, closing_flow_id, order_id, amount, quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.ClosingFlowID, pos.OrderID, pos.Amount, pos.Quantity, pos.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.CreateClosePosition: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ClosePositionsByFlow(ctx context.Context, closingFlowID string) ([]domain.ClosePosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, closing_flow_id, order_id, amount, quantity, created_at
		FROM close_positions WHERE closing_flow_id = ? ORDER BY created_at
	`, closingFlowID)
	if err != nil {
		return nil, fmt.Errorf("storage.ClosePositionsByFlow: %w", err)
	}
	defer rows.Close()

	var positions []domain.ClosePosition
	for rows.Next() {
		var p domain.ClosePosition
		if err := rows.Scan(&p.ID, &p.ClosingFlowID, &p.OrderID, &p.Amount, &p.Quantity, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.ClosePositionsByFlow: scan: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (r *SQLiteRepository) UpdateClosePositionFill(ctx context.Context, id string, amount, quantity float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE close_positions SET amount = ?, quantity = ? WHERE id = ?
	`, amount, quantity, id)
	if err != nil {
		return fmt.Errorf("storage.UpdateClosePositionFill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateClosePositionFill %q: %w", id, sql.ErrNoRows)
	}
	return nil
}
