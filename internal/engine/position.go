package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// position is the mutable state of one short. Only the engine loop touches it.
type position struct {
	id     string
	symbol string
	status types.PositionStatus

	qty           decimal.Decimal
	entryPrice    decimal.Decimal
	averagedPrice *decimal.Decimal
	isAveraged    bool

	restingOrderID string
	averagingPrice decimal.Decimal
	averagingQty   decimal.Decimal

	takeProfitPrice decimal.Decimal
	stopLossPrice   *decimal.Decimal
	ratchet         *strategy.Ratchet

	openAttempts    int
	maxOpenAttempts int
	lastError       string
	closeReason     types.CloseReason
	lastPrice       decimal.Decimal

	openedAt  time.Time
	updatedAt time.Time
}

func (p *position) basePrice() decimal.Decimal {
	if p.isAveraged && p.averagedPrice != nil {
		return *p.averagedPrice
	}
	return p.entryPrice
}

func (p *position) snapshot(usdt decimal.Decimal) types.PositionSnapshot {
	s := types.PositionSnapshot{
		ID:                p.id,
		Symbol:            p.symbol,
		Side:              types.SideShort,
		Status:            p.status,
		Quantity:          p.qty,
		EntryPrice:        p.entryPrice,
		IsAveraged:        p.isAveraged,
		RestingOrderID:    p.restingOrderID,
		TakeProfitPrice:   p.takeProfitPrice,
		BreakevenPrice:    p.ratchet.Breakeven(),
		BestProfitPercent: p.ratchet.BestProfitPercent(),
		OpenAttempts:      p.openAttempts,
		MaxOpenAttempts:   p.maxOpenAttempts,
		LastError:         p.lastError,
		CloseReason:       p.closeReason,
		LastPrice:         p.lastPrice,
		UsdtAmount:        usdt,
		OpenedAt:          p.openedAt,
		UpdatedAt:         p.updatedAt,
	}
	if p.averagedPrice != nil {
		v := *p.averagedPrice
		s.AveragedPrice = &v
	}
	if p.stopLossPrice != nil {
		v := *p.stopLossPrice
		s.StopLossPrice = &v
	}
	return s
}
