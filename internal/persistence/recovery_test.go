package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tathienbao/short-averager/internal/types"
)

// TestRecovery_TradesSurviveRestart reopens the database and reads the audit
// trail back.
func TestRecovery_TradesSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()
	closedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if err := repo1.SaveTrade(ctx, testTrade("t1", "3", closedAt)); err != nil {
		t.Fatalf("failed to save trade: %v", err)
	}
	_ = repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	// Migrations are idempotent.
	if err := repo2.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	trades, err := repo2.GetTrades(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("failed to get trades: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != "t1" {
		t.Errorf("trades after restart = %+v", trades)
	}
}

// TestRecovery_UnfinishedPositions finds positions a previous run left
// without a terminal snapshot.
func TestRecovery_UnfinishedPositions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()
	now := time.Now().UTC()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	statuses := map[string]types.PositionStatus{
		"ETHUSDT": types.StatusAveraged,
		"BTCUSDT": types.StatusAveragingPending,
		"SOLUSDT": types.StatusClosed,
		"XRPUSDT": types.StatusFailed,
	}
	for symbol, status := range statuses {
		snap := types.PositionSnapshot{
			ID:              symbol + "-id",
			Symbol:          symbol,
			Side:            types.SideShort,
			Status:          status,
			Quantity:        d("1"),
			EntryPrice:      d("10"),
			TakeProfitPrice: d("9.7"),
			UsdtAmount:      d("100"),
			UpdatedAt:       now,
		}
		if err := repo1.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("failed to save snapshot: %v", err)
		}
	}
	_ = repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer repo2.Close()

	open, err := repo2.GetUnfinishedSnapshots(ctx)
	if err != nil {
		t.Fatalf("GetUnfinishedSnapshots() error = %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("unfinished = %d, want 2", len(open))
	}
	if open[0].Symbol != "BTCUSDT" || open[1].Symbol != "ETHUSDT" {
		t.Errorf("unfinished order = %s, %s", open[0].Symbol, open[1].Symbol)
	}
	if open[1].Status != types.StatusAveraged {
		t.Errorf("status = %v, want AVERAGED", open[1].Status)
	}
}
