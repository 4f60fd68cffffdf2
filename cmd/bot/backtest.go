package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/backtest"
	"github.com/tathienbao/short-averager/internal/broker/paper"
	"github.com/tathienbao/short-averager/internal/engine"
	"github.com/tathienbao/short-averager/internal/observer"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
	"github.com/tathienbao/short-averager/internal/ui"
)

var hundred = decimal.NewFromInt(100)

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to CSV tick file (required)")
	symbol := fs.String("symbol", "BTC", "Symbol the ticks belong to")
	reenter := fs.Bool("reenter", false, "Open a new position after each close")
	closeAtEnd := fs.Bool("close-at-end", false, "Force close a position still open at the end of data")
	from := fs.String("from", "", "Skip ticks before this time (RFC3339)")
	to := fs.String("to", "", "Stop at this time (RFC3339)")
	showUI := fs.Bool("ui", false, "Draw a live chart while replaying")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --data is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := setupLogger(false, *verbose)
	if *showUI && !*verbose {
		// Log lines would tear the chart.
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	cfg := loadConfig(*configPath)

	params, err := cfg.StrategyParams(*symbol)
	if err != nil {
		slog.Error("invalid parameters", "err", err)
		os.Exit(1)
	}

	startTime, err := parseTimeFlag(*from)
	if err != nil {
		slog.Error("invalid --from", "err", err)
		os.Exit(1)
	}
	endTime, err := parseTimeFlag(*to)
	if err != nil {
		slog.Error("invalid --to", "err", err)
		os.Exit(1)
	}

	feed := observer.NewReplayFeed(*dataPath, params.Symbol)
	if err := feed.Load(); err != nil {
		slog.Error("failed to load data", "path", *dataPath, "err", err)
		os.Exit(1)
	}
	ticks := feed.Ticks()

	pcfg := paper.DefaultConfig()
	pcfg.InitialBalance = decimal.NewFromFloat(cfg.Backtest.InitialBalance)
	pcfg.FeeRate = decimal.NewFromFloat(cfg.Backtest.FeeRate)
	pcfg.SlippageTicks = cfg.Backtest.SlippageTicks

	runner := backtest.NewRunner(backtest.Config{
		Params: params,
		Engine: engine.Config{
			ReconcileInterval: cfg.ReconcileInterval(),
			MaxOpenAttempts:   cfg.Engine.MaxOpenAttempts,
		},
		Paper:       pcfg,
		MinNotional: cfg.MinNotional(),
		Reenter:     *reenter,
		CloseAtEnd:  *closeAtEnd,
		StartTime:   startTime,
		EndTime:     endTime,
	}, logger)

	if *showUI {
		chart := ui.NewBacktestUI(os.Stdout, len(ticks), pcfg.InitialBalance)
		chart.Start()
		defer chart.Stop()
		runner.SetProgressCallback(func(u backtest.ProgressUpdate) {
			chart.AddPrice(u.Price)
			chart.SetLevels(positionLevels(u.Position, params)...)
			chart.UpdateStats(u.Equity, u.Trades, u.Position.Status.String())
			if u.Tick%10 == 0 || u.Tick == u.TotalTick {
				chart.Render()
			}
		})
	}

	slog.Info("starting backtest",
		"data", *dataPath,
		"symbol", params.Symbol,
		"ticks", len(ticks),
		"balance", pcfg.InitialBalance,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, ticks)
	if err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}

	printBacktestResults(result)
	printMetrics(backtest.NewMetrics(result).Summary())
}

// positionLevels returns the chart lines for the current position.
func positionLevels(p types.PositionSnapshot, params strategy.Params) []ui.Level {
	if !p.EntryPrice.IsPositive() {
		return nil
	}
	levels := []ui.Level{{Name: "TP", Price: p.TakeProfitPrice, Color: ui.ColorCyan}}
	if !p.IsAveraged {
		levels = append(levels, ui.Level{
			Name:  "AVG",
			Price: strategy.AveragingPrice(p.EntryPrice, params.AveragingPercent),
			Color: ui.ColorYellow,
		})
	}
	if p.BreakevenPrice != nil {
		levels = append(levels, ui.Level{Name: "BE", Price: *p.BreakevenPrice, Color: ui.ColorGreen})
	}
	if p.StopLossPrice != nil {
		levels = append(levels, ui.Level{Name: "SL", Price: *p.StopLossPrice, Color: ui.ColorRed})
	}
	return levels
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func printBacktestResults(result *backtest.Result) {
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Symbol:           %s\n", result.Symbol)
	fmt.Printf("Ticks:            %d (%s .. %s)\n", result.Ticks,
		result.From.Format(time.DateTime), result.To.Format(time.DateTime))
	fmt.Printf("Start Balance:    %s USDT\n", result.StartBalance.StringFixed(2))
	fmt.Printf("End Balance:      %s USDT\n", result.EndBalance.StringFixed(2))
	fmt.Printf("Fees:             %s USDT\n", result.Fees.StringFixed(4))

	if len(result.Trades) > 0 {
		fmt.Println("\n--- Trades ---")
		for i, t := range result.Trades {
			avg := ""
			if t.WasAveraged {
				avg = " averaged"
			}
			fmt.Printf("%3d. %s -> %s  %-10s %s USDT (%s%%)%s\n",
				i+1,
				t.OpenedAt.Format(time.DateTime),
				t.ClosedAt.Format(time.DateTime),
				t.Reason,
				t.PnLUsdt.StringFixed(4),
				t.PnLPercent.StringFixed(2),
				avg,
			)
		}
	}

	if result.Final.Status.IsOpen() {
		fmt.Printf("\nOpen at end:      %s qty %s base %s last %s\n",
			result.Final.Status,
			result.Final.Quantity,
			result.Final.BasePrice().StringFixed(6),
			result.Final.LastPrice.StringFixed(6),
		)
	}
}

func printMetrics(s backtest.Summary) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Total Trades:     %d (%d averaged)\n", s.TotalTrades, s.Averaged)
	fmt.Printf("Winning Trades:   %d\n", s.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", s.LosingTrades)
	fmt.Printf("Win Rate:         %s%%\n", s.WinRate.Mul(hundred).StringFixed(2))
	fmt.Printf("Net PnL:          %s USDT\n", s.NetPnL.StringFixed(4))
	fmt.Printf("Total Return:     %s%%\n", s.TotalReturn.Mul(hundred).StringFixed(2))
	fmt.Printf("Max Drawdown:     %s%%\n", s.MaxDrawdown.Mul(hundred).StringFixed(2))
	fmt.Printf("Profit Factor:    %s\n", s.ProfitFactor.StringFixed(2))
	fmt.Printf("Expectancy:       %s USDT\n", s.Expectancy.StringFixed(4))
	fmt.Printf("Avg Win:          %s USDT\n", s.AverageWin.StringFixed(4))
	fmt.Printf("Avg Loss:         %s USDT\n", s.AverageLoss.StringFixed(4))
	fmt.Printf("Sharpe (trade):   %s\n", s.SharpeRatio.StringFixed(2))
	fmt.Printf("Sortino (trade):  %s\n", s.SortinoRatio.StringFixed(2))

	if len(s.ByReason) > 0 {
		reasons := make([]types.CloseReason, 0, len(s.ByReason))
		for r := range s.ByReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		fmt.Println("\nClose reasons:")
		for _, r := range reasons {
			fmt.Printf("  %-12s %d\n", r, s.ByReason[r])
		}
	}
}
