package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/alerting"
	"github.com/tathienbao/short-averager/internal/api"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/broker/bybit"
	"github.com/tathienbao/short-averager/internal/broker/paper"
	"github.com/tathienbao/short-averager/internal/config"
	"github.com/tathienbao/short-averager/internal/engine"
	"github.com/tathienbao/short-averager/internal/execution"
	"github.com/tathienbao/short-averager/internal/instrument"
	"github.com/tathienbao/short-averager/internal/metrics"
	"github.com/tathienbao/short-averager/internal/observer"
	"github.com/tathienbao/short-averager/internal/persistence"
	"github.com/tathienbao/short-averager/internal/risk"
	"github.com/tathienbao/short-averager/internal/types"
	"github.com/tathienbao/short-averager/internal/ui"
)

// app holds the long lived components shared by the run and start commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	paper  bool

	feed    *observer.StreamFeed
	limits  *risk.Limits
	repo    *persistence.SQLiteRepository
	manager *engine.Manager
	metrics *metrics.Server

	mu           sync.Mutex
	venues       map[bool]engine.Venue
	orderStreams []*observer.Stream
	paperGW      *paper.Gateway
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	paperMode := fs.Bool("paper", false, "Trade against the in-process paper exchange")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logger := setupLogger(true, *verbose)
	cfg := loadConfig(*configPath)

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *paperMode, logger)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	slog.Info("short-averager starting",
		"version", Version,
		"mode", a.mode(),
		"default_env", environment(cfg.Strategy.UseDemo),
		"fill_detection", cfg.Feed.FillDetection,
	)

	var apiServer *api.Server
	if cfg.API.Enabled {
		defaults, err := cfg.StrategyDefaults()
		if err != nil {
			slog.Error("invalid strategy defaults", "err", err)
			os.Exit(1)
		}
		apiServer = api.NewServer(cfg.API.Addr, a.manager, defaults, logger.With("component", "api"))
		if err := apiServer.Start(); err != nil {
			slog.Error("failed to start control api", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("control api disabled; positions can only be started with the start command")
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := a.shutdown(shutdownCtx, apiServer); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("short-averager shutdown complete")
}

// cmdStart opens one position and follows it until it finishes or the
// process is interrupted.
func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	symbol := fs.String("symbol", "", "Symbol to short, e.g. DOGE or DOGEUSDT (required)")
	amount := fs.Float64("amount", 0, "USDT per order (default from config)")
	live := fs.Bool("live", false, "Trade on mainnet instead of the demo account")
	paperMode := fs.Bool("paper", false, "Trade against the in-process paper exchange")
	refresh := fs.Duration("refresh", 2*time.Second, "Status board refresh interval")
	keep := fs.Bool("keep", false, "Leave the position open on interrupt")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "Error: --symbol is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := setupLogger(false, *verbose)
	cfg := loadConfig(*configPath)
	// The foreground command owns the terminal; the control API stays off.
	cfg.API.Enabled = false

	sym, err := api.ParseSymbol(*symbol)
	if err != nil {
		slog.Error("invalid symbol", "symbol", *symbol, "err", err)
		os.Exit(1)
	}
	params, err := cfg.StrategyParams(sym)
	if err != nil {
		slog.Error("invalid parameters", "err", err)
		os.Exit(1)
	}
	if *amount > 0 {
		params.UsdtAmount = decimal.NewFromFloat(*amount)
	}
	if *live {
		params.UseDemo = false
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *paperMode, logger)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	snap, err := a.manager.Start(ctx, params)
	if err != nil {
		slog.Error("position not opened", "symbol", params.Symbol, "err", err)
		_ = a.shutdown(context.Background(), nil)
		os.Exit(1)
	}
	slog.Info("monitoring position",
		"symbol", snap.Symbol,
		"position_id", snap.ID,
		"status", snap.Status,
		"env", environment(params.UseDemo),
	)

	board := ui.NewStatusBoard(os.Stdout, ui.IsTerminal())
	done := make(chan error, 1)
	go func() { done <- a.manager.Wait(ctx, params.Symbol) }()

	ticker := time.NewTicker(*refresh)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-done:
			break loop
		case <-ctx.Done():
			slog.Info("interrupt received", "close_position", !*keep)
			break loop
		case <-ticker.C:
			_ = board.Render(a.manager.List())
		}
	}

	if final, ok := a.manager.Status(params.Symbol); ok {
		_ = board.Render([]types.PositionSnapshot{final})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	a.cfg.Shutdown.ClosePositionsOnShutdown = !*keep
	if err := a.shutdown(shutdownCtx, nil); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// newApp wires the feed, venues, limits, sinks and the position manager.
func newApp(ctx context.Context, cfg *config.Config, paperMode bool, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		paper:  paperMode,
		venues: make(map[bool]engine.Venue),
	}

	streamCfg := observer.DefaultStreamConfig()
	streamCfg.SilenceTimeout = cfg.SilenceTimeout()
	a.feed = observer.NewStreamFeed("bybit", bybit.TickerFactory(bybit.PublicLinearWS), streamCfg, cfg.Feed.TickBuffer, logger.With("component", "feed"))

	var feed observer.PriceFeed = a.feed
	if paperMode {
		pcfg := paper.DefaultConfig()
		pcfg.InitialBalance = decimal.NewFromFloat(cfg.Backtest.InitialBalance)
		pcfg.FeeRate = decimal.NewFromFloat(cfg.Backtest.FeeRate)
		pcfg.SlippageTicks = cfg.Backtest.SlippageTicks
		a.paperGW = paper.NewGateway(pcfg, logger.With("component", "paper"))
		feed = &priceTap{PriceFeed: a.feed, gw: a.paperGW}
	}

	a.limits = risk.NewLimits(risk.LimitsConfig{
		MaxActivePositions: cfg.Risk.MaxActivePositions,
		MaxTotalNotional:   cfg.MaxTotalNotional(),
		MaxDrawdownUsdt:    cfg.MaxDrawdownUsdt(),
	}, logger.With("component", "risk"))

	sink := engine.NewMultiSink()
	if cfg.Alerting.Enabled {
		notifier, err := newNotifier(cfg, logger)
		if err != nil {
			return nil, err
		}
		sink.Add(notifier)
	}

	deps := engine.ManagerDeps{
		Feed:   feed,
		Venue:  func(useDemo bool) (engine.Venue, error) { return a.venue(ctx, useDemo) },
		Limits: a.limits,
		Sink:   sink,
		Sizer:  risk.NewQuantitySizerWithMinNotional(cfg.MinNotional()),
		Logger: logger.With("component", "engine"),
	}

	if cfg.Persistence.Enabled {
		repo, err := openRepository(cfg.Persistence.Path)
		if err != nil {
			return nil, err
		}
		a.repo = repo
		sink.Add(persistence.NewTradeRecorder(repo))
		deps.Snapshots = repo
		deps.Requests = repo

		unfinished, err := repo.GetUnfinishedSnapshots(ctx)
		if err != nil {
			logger.Warn("failed to read unfinished positions", "err", err)
		}
		for _, s := range unfinished {
			logger.Warn("position from a previous run is not monitored; check it on the exchange",
				"symbol", s.Symbol,
				"position_id", s.ID,
				"status", s.Status,
				"qty", s.Quantity,
			)
		}
	}

	a.manager = engine.NewManager(engine.Config{
		ReconcileInterval: cfg.ReconcileInterval(),
		MaxOpenAttempts:   cfg.Engine.MaxOpenAttempts,
	}, deps)

	if cfg.Metrics.Enabled {
		a.startMetrics()
	}

	return a, nil
}

func (a *app) mode() string {
	if a.paper {
		return "paper"
	}
	return "exchange"
}

// venue returns the cached venue for the demo or live environment.
func (a *app) venue(ctx context.Context, useDemo bool) (engine.Venue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.venues[useDemo]; ok {
		return v, nil
	}

	retry := execution.RetryPolicy{MaxAttempts: a.cfg.Engine.RetryAttempts, Delay: a.cfg.RetryDelay()}
	logger := a.logger.With("env", environment(useDemo))

	if a.paper {
		v := engine.Venue{
			Executor: execution.NewExecutor(a.paperGW, execution.NoRetry(), logger),
			Rules:    instrument.NewResolver(a.paperGW, logger),
		}
		a.venues[useDemo] = v
		return v, nil
	}

	if !a.cfg.HasCredentials(useDemo) {
		return engine.Venue{}, fmt.Errorf("no %s credentials: %w", environment(useDemo), types.ErrAuthentication)
	}

	key, secret := a.cfg.Credentials(useDemo)
	bcfg := bybit.ConfigFor(useDemo, key, secret)
	bcfg.RequestTimeout = a.cfg.RequestTimeout()
	bcfg.RecvWindow = a.cfg.RecvWindow()
	bcfg.MaxRequestsPerSecond = a.cfg.Exchange.RateLimitPerSecond
	client := bybit.NewClient(bcfg, logger.With("component", "bybit"))

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout())
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("exchange ping failed", "err", err)
	}

	v := engine.Venue{
		Executor: execution.NewExecutor(client, retry, logger),
		Rules:    instrument.NewResolver(client, logger),
	}

	if a.cfg.Feed.FillDetection == "stream" {
		updates := make(chan broker.OrderUpdate, a.cfg.Feed.TickBuffer)
		streamCfg := observer.DefaultStreamConfig()
		streamCfg.SilenceTimeout = a.cfg.SilenceTimeout()
		stream := observer.NewStream(bybit.NewOrderStreamHandler(bcfg, updates), streamCfg, logger.With("component", "order_stream"))
		detector := observer.NewStreamFillDetector(
			observer.NewPollingFillDetector(client),
			func() bool { return stream.State() == broker.StateConnected },
			a.cfg.FillPollInterval(),
			logger,
		)
		go stream.Run(ctx)
		go detector.Consume(ctx, updates)
		a.orderStreams = append(a.orderStreams, stream)
		v.Fills = detector
	}

	a.venues[useDemo] = v
	return v, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (*alerting.EventNotifier, error) {
	minSev, err := alerting.ParseSeverity(cfg.Alerting.MinSeverity)
	if err != nil {
		return nil, err
	}

	multi := alerting.NewMultiAlerter(logger.With("component", "alerting"))
	if cfg.Alerting.Console {
		multi.AddAlerter(alerting.NewConsoleAlerter(logger))
	}
	if tg := newTelegram(cfg); tg != nil {
		multi.AddAlerter(tg)
	}
	if multi.Len() == 0 {
		logger.Warn("alerting enabled without any channel")
	}
	return alerting.NewEventNotifier(multi, minSev), nil
}

func newTelegram(cfg *config.Config) *alerting.TelegramAlerter {
	tg := cfg.Alerting.Telegram
	if tg.BotToken == "" || len(tg.ChatIDs) == 0 {
		return nil
	}
	return alerting.NewTelegramAlerter(alerting.TelegramConfig{
		BotToken: tg.BotToken,
		ChatIDs:  tg.ChatIDs,
		Timeout:  cfg.TelegramTimeout(),
	})
}

func openRepository(path string) (*persistence.SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	repo, err := persistence.NewSQLiteRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

func (a *app) startMetrics() {
	srv := metrics.NewServer(metrics.ServerConfig{
		Port:        a.cfg.Metrics.Port,
		MetricsPath: a.cfg.Metrics.Path,
		HealthPath:  "/health",
	}, a.logger.With("component", "metrics"))

	srv.RegisterHealthCheck("limits", func() metrics.Check {
		if a.limits.Snapshot().KillSwitch {
			return metrics.Check{Status: metrics.StatusUnhealthy, Message: "kill switch engaged"}
		}
		return metrics.Check{Status: metrics.StatusHealthy}
	})
	srv.RegisterHealthCheck("feed", func() metrics.Check {
		for _, p := range a.manager.List() {
			if a.feed.State(p.Symbol) != broker.StateConnected {
				return metrics.Check{Status: metrics.StatusDegraded, Message: p.Symbol + " stream " + a.feed.State(p.Symbol).String()}
			}
		}
		return metrics.Check{Status: metrics.StatusHealthy}
	})
	srv.RegisterHealthCheck("order_stream", func() metrics.Check {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, s := range a.orderStreams {
			if s.State() != broker.StateConnected {
				return metrics.Check{Status: metrics.StatusDegraded, Message: "polling fallback active"}
			}
		}
		return metrics.Check{Status: metrics.StatusHealthy}
	})

	if err := srv.Start(); err != nil {
		a.logger.Error("failed to start metrics server", "err", err)
		return
	}
	a.metrics = srv
}

func (a *app) shutdown(ctx context.Context, apiServer *api.Server) error {
	slog.Info("starting graceful shutdown",
		"timeout", a.cfg.ShutdownTimeout(),
		"close_positions", a.cfg.Shutdown.ClosePositionsOnShutdown,
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop accepting requests", func() error {
			if apiServer == nil {
				return nil
			}
			return apiServer.Shutdown(ctx)
		}},
		{"stop position engines", func() error {
			return a.manager.Shutdown(ctx, a.cfg.Shutdown.ClosePositionsOnShutdown)
		}},
		{"stop metrics server", func() error {
			if a.metrics == nil {
				return nil
			}
			return a.metrics.Shutdown(ctx)
		}},
		{"close repository", func() error {
			if a.repo == nil {
				return nil
			}
			return a.repo.Close()
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	if a.paperGW != nil {
		slog.Info("paper account",
			"balance", a.paperGW.Balance(),
			"realized_pnl", a.paperGW.RealizedPnL(),
			"fees", a.paperGW.Fees(),
		)
	}

	return nil
}

// priceTap feeds stream ticks into the paper exchange before the engine
// sees them, so paper fills follow the live market.
type priceTap struct {
	observer.PriceFeed
	gw *paper.Gateway
}

func (p *priceTap) Subscribe(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	in, err := p.PriceFeed.Subscribe(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make(chan types.Tick, cap(in))
	go func() {
		defer close(out)
		for t := range in {
			p.gw.SetPrice(t.Symbol, t.Price, t.Time)
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
