package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// ReplayFeed provides ticks from a CSV file for backtesting.
type ReplayFeed struct {
	filePath string
	symbol   string
	ticks    []types.Tick
	loaded   bool
}

// NewReplayFeed creates a new replay feed from a CSV file.
// CSV format: timestamp,price  or  timestamp,open,high,low,close[,volume] (close is used).
// Timestamp format: 2006-01-02 15:04:05, RFC3339, Unix seconds or Unix milliseconds.
func NewReplayFeed(filePath, symbol string) *ReplayFeed {
	return &ReplayFeed{
		filePath: filePath,
		symbol:   symbol,
	}
}

// Load reads and parses the CSV file.
func (f *ReplayFeed) Load() error {
	if f.loaded {
		return nil
	}

	file, err := os.Open(f.filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	ticks, err := ParseTicksCSV(file, f.symbol)
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}

	f.ticks = ticks
	f.loaded = true
	return nil
}

// Ticks returns the loaded ticks.
func (f *ReplayFeed) Ticks() []types.Tick {
	return f.ticks
}

// Subscribe starts sending historical ticks.
// The channel will close when all data has been sent or context is cancelled.
func (f *ReplayFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	if err := f.Load(); err != nil {
		return nil, err
	}
	return sendTicks(ctx, f.ticks, symbol), nil
}

// Name returns the feed identifier.
func (f *ReplayFeed) Name() string {
	return "replay"
}

// ParseTicksCSV parses ticks from a CSV reader. Invalid rows are skipped.
func ParseTicksCSV(r io.Reader, symbol string) ([]types.Tick, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var ticks []types.Tick
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}

		tick, err := parseTickRecord(record, symbol)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}

	return ticks, nil
}

func parseTickRecord(record []string, symbol string) (types.Tick, error) {
	tick := types.Tick{Symbol: symbol}

	var priceField string
	switch {
	case len(record) >= 5:
		priceField = record[4]
	case len(record) >= 2:
		priceField = record[1]
	default:
		return tick, fmt.Errorf("%w: %d fields", types.ErrInvalidData, len(record))
	}

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return tick, fmt.Errorf("parse timestamp: %w", err)
	}
	tick.Time = ts

	tick.Price, err = decimal.NewFromString(priceField)
	if err != nil {
		return tick, fmt.Errorf("parse price: %w", err)
	}
	if !tick.Price.IsPositive() {
		return tick, types.ErrInvalidPrice
	}

	return tick, nil
}

// parseTimestamp tries multiple timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		if unix > 1e12 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"01/02/2006 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

// isHeader checks if a record looks like a header row.
func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	switch record[0] {
	case "timestamp", "time", "date", "datetime", "ts":
		return true
	}
	return false
}

// MemoryFeed provides ticks from an in-memory slice.
// Useful for testing.
type MemoryFeed struct {
	ticks []types.Tick
}

// NewMemoryFeed creates a feed from pre-loaded ticks.
func NewMemoryFeed(ticks []types.Tick) *MemoryFeed {
	return &MemoryFeed{ticks: ticks}
}

// Subscribe starts sending ticks from memory.
func (f *MemoryFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	return sendTicks(ctx, f.ticks, symbol), nil
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string {
	return "memory"
}

// AddTick adds a tick to the feed.
func (f *MemoryFeed) AddTick(tick types.Tick) {
	f.ticks = append(f.ticks, tick)
}

func sendTicks(ctx context.Context, ticks []types.Tick, symbol string) <-chan types.Tick {
	ch := make(chan types.Tick, 100)

	go func() {
		defer close(ch)
		for _, tick := range ticks {
			if tick.Symbol != "" && tick.Symbol != symbol {
				continue
			}
			tick.Symbol = symbol
			select {
			case <-ctx.Done():
				return
			case ch <- tick:
			}
		}
	}()

	return ch
}
