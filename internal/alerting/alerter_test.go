package alerting

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tathienbao/short-averager/internal/types"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverity_Emoji(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "ℹ️"},
		{SeverityWarning, "⚠️"},
		{SeverityHigh, "🔴"},
		{SeverityCritical, "🚨"},
		{Severity(99), "❓"},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			if got := tt.severity.Emoji(); got != tt.want {
				t.Errorf("Severity.Emoji() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{
			name:   "empty fields",
			fields: nil,
			want:   "",
		},
		{
			name:   "single field",
			fields: []any{"key", "value"},
			want:   "• key: value",
		},
		{
			name:   "multiple fields",
			fields: []any{"key1", "value1", "key2", 123},
			want:   "• key1: value1\n• key2: 123",
		},
		{
			name:   "odd number of fields",
			fields: []any{"key1", "value1", "orphan"},
			want:   "• key1: value1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		kind types.EventKind
		want Severity
	}{
		{types.EventStrategyError, SeverityCritical},
		{types.EventStopLossTriggered, SeverityHigh},
		{types.EventManualCloseDetected, SeverityHigh},
		{types.EventQuantityAdjusted, SeverityWarning},
		{types.EventMonitoringStopped, SeverityWarning},
		{types.EventPositionOpened, SeverityInfo},
		{types.EventPositionClosed, SeverityInfo},
		{types.EventBreakevenMoved, SeverityInfo},
		{types.EventKind(99), SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := EventSeverity(tt.kind); got != tt.want {
				t.Errorf("EventSeverity(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestMockAlerter(t *testing.T) {
	mock := NewMockAlerter()
	ctx := context.Background()

	// Initially empty
	if mock.Count() != 0 {
		t.Errorf("expected 0 alerts, got %d", mock.Count())
	}

	// Send alert
	err := mock.Alert(ctx, SeverityInfo, "test message", "key", "value")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	// Check count
	if mock.Count() != 1 {
		t.Errorf("expected 1 alert, got %d", mock.Count())
	}

	// Check last alert
	last := mock.LastAlert()
	if last == nil {
		t.Fatal("expected last alert, got nil")
	}
	if last.Severity != SeverityInfo {
		t.Errorf("expected SeverityInfo, got %v", last.Severity)
	}
	if last.Message != "test message" {
		t.Errorf("expected 'test message', got %q", last.Message)
	}

	// Check contains
	if !mock.HasAlertContaining("test") {
		t.Error("expected to have alert containing 'test'")
	}
	if mock.HasAlertContaining("nonexistent") {
		t.Error("did not expect alert containing 'nonexistent'")
	}

	// Check severity
	if !mock.HasAlertWithSeverity(SeverityInfo) {
		t.Error("expected to have alert with SeverityInfo")
	}
	if mock.HasAlertWithSeverity(SeverityCritical) {
		t.Error("did not expect alert with SeverityCritical")
	}

	// Clear
	mock.Clear()
	if mock.Count() != 0 {
		t.Errorf("expected 0 alerts after clear, got %d", mock.Count())
	}
}

func TestConsoleAlerter(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	alerter := NewConsoleAlerter(logger)

	if alerter.Name() != "console" {
		t.Errorf("Name() = %q, want console", alerter.Name())
	}

	if err := alerter.Alert(context.Background(), SeverityCritical, "close failed", "symbol", "BTCUSDT"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"level=ERROR", "close failed", "severity=CRITICAL", "symbol=BTCUSDT", "component=alert"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		severity Severity
		want     slog.Level
	}{
		{SeverityInfo, slog.LevelInfo},
		{SeverityWarning, slog.LevelWarn},
		{SeverityHigh, slog.LevelWarn},
		{SeverityCritical, slog.LevelError},
	}
	for _, tt := range tests {
		if got := logLevel(tt.severity); got != tt.want {
			t.Errorf("logLevel(%s) = %v, want %v", tt.severity, got, tt.want)
		}
	}
}

func TestMultiAlerter(t *testing.T) {
	mock1 := NewMockAlerter()
	mock2 := NewMockAlerter()

	multi := NewMultiAlerter(nil, mock1, mock2)

	if multi.Name() != "multi" {
		t.Errorf("expected name 'multi', got %q", multi.Name())
	}

	// Send alert
	err := multi.Alert(context.Background(), SeverityWarning, "broadcast")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	// Both should receive
	if mock1.Count() != 1 {
		t.Errorf("mock1: expected 1 alert, got %d", mock1.Count())
	}
	if mock2.Count() != 1 {
		t.Errorf("mock2: expected 1 alert, got %d", mock2.Count())
	}

	// Add another alerter
	mock3 := NewMockAlerter()
	multi.AddAlerter(mock3)

	// Send another alert
	_ = multi.Alert(context.Background(), SeverityHigh, "another")

	if mock3.Count() != 1 {
		t.Errorf("mock3: expected 1 alert, got %d", mock3.Count())
	}
}

func TestMultiAlerter_JoinsErrors(t *testing.T) {
	failing := NewMockAlerter()
	failing.FailWith(errors.New("down"))
	healthy := NewMockAlerter()
	multi := NewMultiAlerter(nil, failing, healthy)

	err := multi.Alert(context.Background(), SeverityCritical, "boom")
	if err == nil || !strings.Contains(err.Error(), "mock: down") {
		t.Errorf("Alert() error = %v, want joined failure", err)
	}
	if healthy.Count() != 1 {
		t.Errorf("healthy alerter got %d alerts, want 1", healthy.Count())
	}
	if multi.Len() != 2 {
		t.Errorf("Len() = %d, want 2", multi.Len())
	}
}
