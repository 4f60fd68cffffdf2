package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tathienbao/short-averager/internal/alerting"
)

// cmdSummary reports the trades closed in a period, by default the
// current UTC day.
func cmdSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	day := fs.String("day", "", "UTC day to summarize (YYYY-MM-DD, default today)")
	send := fs.Bool("send", false, "Send the summary to the configured Telegram chats")
	fs.Parse(args)

	setupLogger(false, false)
	cfg := loadConfig(*configPath)

	if !cfg.Persistence.Enabled {
		slog.Error("summary needs persistence enabled")
		os.Exit(1)
	}

	ref := time.Now()
	if *day != "" {
		t, err := time.Parse(time.DateOnly, *day)
		if err != nil {
			slog.Error("invalid --day", "err", err)
			os.Exit(1)
		}
		ref = t
	}
	from, to := alerting.DailyWindow(ref)

	repo, err := openRepository(cfg.Persistence.Path)
	if err != nil {
		slog.Error("failed to open repository", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trades, err := repo.GetTrades(ctx, from, to)
	if err != nil {
		slog.Error("failed to load trades", "err", err)
		os.Exit(1)
	}
	open, err := repo.GetUnfinishedSnapshots(ctx)
	if err != nil {
		slog.Warn("failed to load open positions", "err", err)
	}

	summary := alerting.NewTradeSummary(trades, from, to, len(open))
	fmt.Println(htmlTags.Replace(alerting.FormatSummary(summary)))

	if !*send {
		return
	}
	tg := newTelegram(cfg)
	if tg == nil {
		slog.Error("telegram is not configured")
		os.Exit(1)
	}
	if err := tg.SendSummary(ctx, summary); err != nil {
		slog.Error("failed to send summary", "err", err)
		os.Exit(1)
	}
	slog.Info("summary sent", "chats", len(cfg.Alerting.Telegram.ChatIDs))
}

var htmlTags = strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "", "&lt;", "<", "&gt;", ">", "&amp;", "&")
