// Package persistence stores the audit trail of the bot: accepted trade
// requests, position snapshots and completed trades. Open positions are not
// restored from it.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// Repository defines the interface for audit persistence.
type Repository interface {
	// Completed trades
	SaveTrade(ctx context.Context, trade types.CompletedTrade) error
	GetTrades(ctx context.Context, from, to time.Time) ([]types.CompletedTrade, error)
	GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]types.CompletedTrade, error)

	// Trade requests
	SaveRequest(ctx context.Context, req TradeRequest) error
	GetRequests(ctx context.Context, limit int) ([]TradeRequest, error)

	// Position snapshots
	SaveSnapshot(ctx context.Context, snap types.PositionSnapshot) error
	GetSnapshot(ctx context.Context, positionID string) (*types.PositionSnapshot, error)
	GetUnfinishedSnapshots(ctx context.Context) ([]types.PositionSnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// TradeRequest is an accepted request to open a short-averaging position.
type TradeRequest struct {
	ID               int64
	PositionID       string
	Symbol           string
	UsdtAmount       decimal.Decimal
	AveragingPercent decimal.Decimal
	InitialTPPercent decimal.Decimal
	BreakevenStep    decimal.Decimal
	StopLossPercent  decimal.Decimal
	UseDemo          bool
	Basis            string
	CreatedAt        time.Time
}
