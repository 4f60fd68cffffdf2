// Package main is the entry point for the short averaging bot.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tathienbao/short-averager/internal/config"
	"github.com/tathienbao/short-averager/internal/metrics"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "start":
		cmdStart(os.Args[2:])
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "summary":
		cmdSummary(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Short Averager - Bybit short position lifecycle bot

Usage:
  short-averager <command> [options]

Commands:
  run        Serve the control API and manage positions until interrupted
  start      Open one position and monitor it in the foreground
  backtest   Replay a tick file through the position engine
  summary    Print (and optionally send) the trade summary for a period
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  short-averager run --config config.yaml
  short-averager run --config config.yaml --paper
  short-averager start --config config.yaml --symbol DOGE
  short-averager backtest --config config.yaml --data data/DOGEUSDT_ticks.csv --ui
  short-averager summary --config config.yaml --send
  short-averager validate --config config.yaml

Use "short-averager <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("short-averager version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Order amount:     %.2f USDT\n", cfg.Strategy.UsdtAmount)
	fmt.Printf("  Averaging:        +%.2f%%\n", cfg.Strategy.AveragingPercent)
	fmt.Printf("  Take profit:      %.2f%% (step %.2f%%)\n", cfg.Strategy.InitialTPPercent, cfg.Strategy.BreakevenStep)
	fmt.Printf("  Stop loss:        %.2f%%\n", cfg.Strategy.StopLossPercent)
	fmt.Printf("  Breakeven basis:  %s\n", cfg.Strategy.BreakevenBasis)
	fmt.Printf("  Environment:      %s\n", environment(cfg.Strategy.UseDemo))
	fmt.Printf("  Fill detection:   %s\n", cfg.Feed.FillDetection)
	fmt.Printf("  Demo credentials: %v\n", cfg.HasCredentials(true))
	fmt.Printf("  Live credentials: %v\n", cfg.HasCredentials(false))
}

func environment(demo bool) string {
	if demo {
		return "demo"
	}
	return "live"
}

// setupLogger installs the default logger. Long running commands log JSON.
func setupLogger(json, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)
	return logger
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	return cfg
}
