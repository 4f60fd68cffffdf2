package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tathienbao/short-averager/internal/types"
)

const defaultTelegramURL = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	// ChatIDs receive every message.
	ChatIDs []string
	Timeout time.Duration
	// BaseURL overrides the Bot API endpoint.
	BaseURL string
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
	now    func() time.Time
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &TelegramAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.broadcast(ctx, t.formatMessage(severity, message, fields...))
}

// SendSummary sends a formatted trade summary.
func (t *TelegramAlerter) SendSummary(ctx context.Context, summary TradeSummary) error {
	return t.broadcast(ctx, FormatSummary(summary))
}

// broadcast delivers text to every chat. A failing chat does not stop the
// others; the first error is returned.
func (t *TelegramAlerter) broadcast(ctx context.Context, text string) error {
	if len(t.cfg.ChatIDs) == 0 {
		return fmt.Errorf("telegram: no chat configured")
	}
	var firstErr error
	for _, chatID := range t.cfg.ChatIDs {
		if err := t.send(ctx, chatID, text); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("chat %s: %w", chatID, err)
		}
	}
	return firstErr
}

func (t *TelegramAlerter) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}
	return nil
}

// formatMessage renders an alert as Telegram HTML. The symbol field, when
// present, is promoted to the headline.
func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", severity.Emoji(), html.EscapeString(message))

	rest := make([]any, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == "symbol" {
			fmt.Fprintf(&b, "\n<code>%s</code>", html.EscapeString(fmt.Sprint(fields[i+1])))
			continue
		}
		rest = append(rest, fields[i], fields[i+1])
	}
	if details := FormatFields(rest...); details != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(details))
	}

	fmt.Fprintf(&b, "\n\n<i>%s</i>", t.now().UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// FormatSummary renders a trade summary as Telegram HTML.
func FormatSummary(s TradeSummary) string {
	plEmoji := "📈"
	if s.TotalPnL.IsNegative() {
		plEmoji = "📉"
	}

	period := "all time"
	switch {
	case !s.From.IsZero() && !s.To.IsZero():
		period = s.From.Format("2006-01-02 15:04") + " to " + s.To.Format("2006-01-02 15:04")
	case !s.From.IsZero():
		period = "since " + s.From.Format("2006-01-02 15:04")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Trade Summary</b>\n<b>Period:</b> %s\n\n", plEmoji, period)
	fmt.Fprintf(&b, "<b>Trades:</b>\n• Total: %d\n• Wins: %d | Losses: %d\n• Win Rate: %s%%\n• Averaged: %d\n\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate.StringFixed(1), s.AveragedTrades)
	fmt.Fprintf(&b, "<b>Performance:</b>\n• PnL: %s USDT\n• Avg PnL: %s\n• Best: %s USDT | Worst: %s USDT\n• Max Drawdown: %s USDT\n• Volume: %s USDT\n",
		signed(s.TotalPnL), percent(s.AvgPnLPercent), signed(s.BestPnL), signed(s.WorstPnL),
		s.MaxDrawdown.StringFixed(2), s.Volume.StringFixed(2))

	if len(s.ByReason) > 0 {
		reasons := make([]types.CloseReason, 0, len(s.ByReason))
		for r := range s.ByReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		b.WriteString("\n<b>Close reasons:</b>\n")
		for _, r := range reasons {
			fmt.Fprintf(&b, "• %s: %d\n", r, s.ByReason[r])
		}
	}

	fmt.Fprintf(&b, "\n<b>Open Positions:</b> %d", s.OpenPositions)
	return b.String()
}
