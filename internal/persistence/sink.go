package persistence

import (
	"context"
	"fmt"

	"github.com/tathienbao/short-averager/internal/types"
)

// TradeRecorder stores a completed trade for every PositionClosed event.
type TradeRecorder struct {
	repo Repository
}

// NewTradeRecorder creates a recorder backed by repo.
func NewTradeRecorder(repo Repository) *TradeRecorder {
	return &TradeRecorder{repo: repo}
}

// Publish implements the engine event sink.
func (r *TradeRecorder) Publish(ctx context.Context, ev types.Event) error {
	if ev.Kind != types.EventPositionClosed {
		return nil
	}
	if err := r.repo.SaveTrade(ctx, ev.Trade()); err != nil {
		return fmt.Errorf("record trade %s: %w", ev.PositionID, err)
	}
	return nil
}
