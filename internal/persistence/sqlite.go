package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (or creates) the database at path and migrates it.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}

	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS completed_trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			close_price TEXT NOT NULL,
			pnl_percent TEXT NOT NULL,
			pnl_usdt TEXT NOT NULL,
			was_averaged INTEGER NOT NULL DEFAULT 0,
			close_reason TEXT NOT NULL,
			usdt_amount TEXT NOT NULL,
			opened_at DATETIME,
			closed_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON completed_trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON completed_trades(closed_at)`,

		`CREATE TABLE IF NOT EXISTS trade_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			usdt_amount TEXT NOT NULL,
			averaging_percent TEXT NOT NULL,
			initial_tp_percent TEXT NOT NULL,
			breakeven_step TEXT NOT NULL,
			stop_loss_percent TEXT NOT NULL,
			use_demo INTEGER NOT NULL DEFAULT 1,
			basis TEXT NOT NULL DEFAULT 'entry',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_symbol ON trade_requests(symbol)`,

		`CREATE TABLE IF NOT EXISTS position_snapshots (
			position_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			status INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			averaged_price TEXT,
			is_averaged INTEGER NOT NULL DEFAULT 0,
			resting_order_id TEXT,
			take_profit_price TEXT NOT NULL,
			breakeven_price TEXT,
			best_profit_percent TEXT NOT NULL DEFAULT '0',
			stop_loss_price TEXT,
			open_attempts INTEGER NOT NULL DEFAULT 0,
			max_open_attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			close_reason TEXT NOT NULL DEFAULT 'NONE',
			last_price TEXT NOT NULL DEFAULT '0',
			usdt_amount TEXT NOT NULL,
			opened_at DATETIME,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_status ON position_snapshots(status)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveTrade saves a completed trade. Saving the same position twice keeps
// the first record.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, t types.CompletedTrade) error {
	query := `INSERT OR IGNORE INTO completed_trades
		(id, symbol, side, quantity, entry_price, close_price, pnl_percent, pnl_usdt, was_averaged, close_reason, usdt_amount, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Symbol,
		t.Side,
		t.Quantity.String(),
		t.EntryPrice.String(),
		t.ClosePrice.String(),
		t.PnLPercent.String(),
		t.PnLUsdt.String(),
		boolToInt(t.WasAveraged),
		t.Reason.String(),
		t.UsdtAmount.String(),
		t.OpenedAt.UTC(),
		t.ClosedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

const tradeColumns = `id, symbol, side, quantity, entry_price, close_price, pnl_percent, pnl_usdt, was_averaged, close_reason, usdt_amount, opened_at, closed_at`

// GetTrades returns trades closed in [from, to), oldest first. A zero bound
// is open.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]types.CompletedTrade, error) {
	var where []string
	var args []any
	if !from.IsZero() {
		where = append(where, "closed_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		where = append(where, "closed_at < ?")
		args = append(args, to.UTC())
	}

	query := `SELECT ` + tradeColumns + ` FROM completed_trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY closed_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

// GetTradesBySymbol returns the latest trades for a symbol, newest first.
func (r *SQLiteRepository) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]types.CompletedTrade, error) {
	query := `SELECT ` + tradeColumns + ` FROM completed_trades WHERE symbol = ? ORDER BY closed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades by symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]types.CompletedTrade, error) {
	var trades []types.CompletedTrade
	for rows.Next() {
		var t types.CompletedTrade
		var qty, entry, closePrice, pnlPct, pnlUsdt, usdt, reason string
		var averaged int
		var openedAt sql.NullTime

		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &qty, &entry, &closePrice, &pnlPct, &pnlUsdt, &averaged, &reason, &usdt, &openedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.Quantity, _ = decimal.NewFromString(qty)
		t.EntryPrice, _ = decimal.NewFromString(entry)
		t.ClosePrice, _ = decimal.NewFromString(closePrice)
		t.PnLPercent, _ = decimal.NewFromString(pnlPct)
		t.PnLUsdt, _ = decimal.NewFromString(pnlUsdt)
		t.UsdtAmount, _ = decimal.NewFromString(usdt)
		t.WasAveraged = averaged == 1
		t.Reason = types.ParseCloseReason(reason)
		if openedAt.Valid {
			t.OpenedAt = openedAt.Time
		}

		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveRequest saves an accepted trade request.
func (r *SQLiteRepository) SaveRequest(ctx context.Context, req TradeRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.now()
	}
	query := `INSERT INTO trade_requests
		(position_id, symbol, usdt_amount, averaging_percent, initial_tp_percent, breakeven_step, stop_loss_percent, use_demo, basis, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		req.PositionID,
		req.Symbol,
		req.UsdtAmount.String(),
		req.AveragingPercent.String(),
		req.InitialTPPercent.String(),
		req.BreakevenStep.String(),
		req.StopLossPercent.String(),
		boolToInt(req.UseDemo),
		req.Basis,
		req.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trade request: %w", err)
	}

	return nil
}

// RecordRequest saves the parameters a position was started with.
func (r *SQLiteRepository) RecordRequest(ctx context.Context, positionID string, p strategy.Params) error {
	return r.SaveRequest(ctx, TradeRequest{
		PositionID:       positionID,
		Symbol:           p.Symbol,
		UsdtAmount:       p.UsdtAmount,
		AveragingPercent: p.AveragingPercent,
		InitialTPPercent: p.InitialTPPercent,
		BreakevenStep:    p.BreakevenStep,
		StopLossPercent:  p.StopLossPercent,
		UseDemo:          p.UseDemo,
		Basis:            string(p.Basis),
	})
}

// GetRequests returns the latest trade requests, newest first.
func (r *SQLiteRepository) GetRequests(ctx context.Context, limit int) ([]TradeRequest, error) {
	query := `SELECT id, position_id, symbol, usdt_amount, averaging_percent, initial_tp_percent, breakeven_step, stop_loss_percent, use_demo, basis, created_at
		FROM trade_requests ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TradeRequest
	for rows.Next() {
		var req TradeRequest
		var usdt, avg, tp, step, sl string
		var demo int

		if err := rows.Scan(&req.ID, &req.PositionID, &req.Symbol, &usdt, &avg, &tp, &step, &sl, &demo, &req.Basis, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		req.UsdtAmount, _ = decimal.NewFromString(usdt)
		req.AveragingPercent, _ = decimal.NewFromString(avg)
		req.InitialTPPercent, _ = decimal.NewFromString(tp)
		req.BreakevenStep, _ = decimal.NewFromString(step)
		req.StopLossPercent, _ = decimal.NewFromString(sl)
		req.UseDemo = demo == 1

		out = append(out, req)
	}

	return out, rows.Err()
}

// SaveSnapshot upserts the latest snapshot of a position.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, s types.PositionSnapshot) error {
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	query := `INSERT OR REPLACE INTO position_snapshots
		(position_id, symbol, side, status, quantity, entry_price, averaged_price, is_averaged, resting_order_id,
		 take_profit_price, breakeven_price, best_profit_percent, stop_loss_price, open_attempts, max_open_attempts,
		 last_error, close_reason, last_price, usdt_amount, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.Symbol,
		s.Side,
		s.Status,
		s.Quantity.String(),
		s.EntryPrice.String(),
		nullDecimal(s.AveragedPrice),
		boolToInt(s.IsAveraged),
		nullString(s.RestingOrderID),
		s.TakeProfitPrice.String(),
		nullDecimal(s.BreakevenPrice),
		s.BestProfitPercent.String(),
		nullDecimal(s.StopLossPrice),
		s.OpenAttempts,
		s.MaxOpenAttempts,
		nullString(s.LastError),
		s.CloseReason.String(),
		s.LastPrice.String(),
		s.UsdtAmount.String(),
		s.OpenedAt.UTC(),
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert position snapshot: %w", err)
	}

	return nil
}

const snapshotColumns = `position_id, symbol, side, status, quantity, entry_price, averaged_price, is_averaged, resting_order_id,
	take_profit_price, breakeven_price, best_profit_percent, stop_loss_price, open_attempts, max_open_attempts,
	last_error, close_reason, last_price, usdt_amount, opened_at, updated_at`

// GetSnapshot returns the stored snapshot of a position, or nil.
func (r *SQLiteRepository) GetSnapshot(ctx context.Context, positionID string) (*types.PositionSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM position_snapshots WHERE position_id = ?`, positionID)
	if err != nil {
		return nil, fmt.Errorf("query position snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetUnfinishedSnapshots returns positions whose last snapshot is not
// terminal. After a restart these may still be open on the exchange.
func (r *SQLiteRepository) GetUnfinishedSnapshots(ctx context.Context) ([]types.PositionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM position_snapshots WHERE status NOT IN (?, ?) ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, types.StatusClosed, types.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("query unfinished snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]types.PositionSnapshot, error) {
	var out []types.PositionSnapshot
	for rows.Next() {
		var s types.PositionSnapshot
		var qty, entry, tp, best, lastPrice, usdt, reason string
		var averaged, breakeven, stopLoss, resting, lastErr sql.NullString
		var isAveraged int
		var openedAt sql.NullTime

		err := rows.Scan(&s.ID, &s.Symbol, &s.Side, &s.Status, &qty, &entry, &averaged, &isAveraged, &resting,
			&tp, &breakeven, &best, &stopLoss, &s.OpenAttempts, &s.MaxOpenAttempts,
			&lastErr, &reason, &lastPrice, &usdt, &openedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		s.Quantity, _ = decimal.NewFromString(qty)
		s.EntryPrice, _ = decimal.NewFromString(entry)
		s.TakeProfitPrice, _ = decimal.NewFromString(tp)
		s.BestProfitPercent, _ = decimal.NewFromString(best)
		s.LastPrice, _ = decimal.NewFromString(lastPrice)
		s.UsdtAmount, _ = decimal.NewFromString(usdt)
		s.AveragedPrice = parseNullDecimal(averaged)
		s.BreakevenPrice = parseNullDecimal(breakeven)
		s.StopLossPrice = parseNullDecimal(stopLoss)
		s.IsAveraged = isAveraged == 1
		s.RestingOrderID = resting.String
		s.LastError = lastErr.String
		s.CloseReason = types.ParseCloseReason(reason)
		if openedAt.Valid {
			s.OpenedAt = openedAt.Time
		}

		out = append(out, s)
	}

	return out, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullDecimal(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseNullDecimal(v sql.NullString) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
