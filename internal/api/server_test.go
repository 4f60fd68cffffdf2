package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

type fakePositions struct {
	mu      sync.Mutex
	started []strategy.Params
	stopped map[string]bool
	active  map[string]types.PositionSnapshot
	err     error
}

func newFakePositions() *fakePositions {
	return &fakePositions{
		stopped: make(map[string]bool),
		active:  make(map[string]types.PositionSnapshot),
	}
}

func (f *fakePositions) Start(_ context.Context, p strategy.Params) (types.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.PositionSnapshot{}, f.err
	}
	if _, ok := f.active[p.Symbol]; ok {
		return types.PositionSnapshot{}, fmt.Errorf("%s: %w", p.Symbol, types.ErrPositionExists)
	}
	f.started = append(f.started, p)
	snap := types.PositionSnapshot{
		ID:         "pos-" + p.Symbol,
		Symbol:     p.Symbol,
		Side:       types.SideShort,
		Status:     types.StatusIdle,
		UsdtAmount: p.UsdtAmount,
		UpdatedAt:  time.Now(),
	}
	f.active[p.Symbol] = snap
	return snap, nil
}

func (f *fakePositions) Stop(symbol string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[symbol]; !ok {
		return fmt.Errorf("%s: %w", symbol, types.ErrPositionNotFound)
	}
	f.stopped[symbol] = force
	return nil
}

func (f *fakePositions) List() []types.PositionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.PositionSnapshot, 0, len(f.active))
	for _, s := range f.active {
		out = append(out, s)
	}
	return out
}

func (f *fakePositions) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func newTestServer(t *testing.T) (*Server, *fakePositions) {
	t.Helper()
	pos := newFakePositions()
	return NewServer(":0", pos, strategy.DefaultParams(""), nil), pos
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"btc", "BTCUSDT", false},
		{"BTCUSDT", "BTCUSDT", false},
		{" 'eth' ", "ETHUSDT", false},
		{`"SOLUSDT"`, "SOLUSDT", false},
		{"ALUUSDT.P: Code 1 SHORT signal!", "ALUUSDT", false},
		{"1000PEPEUSDT.P", "1000PEPEUSDT", false},
		{"", "", true},
		{"  ", "", true},
		{"BTC/USDT", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSymbol(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSymbol(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidSymbol) {
				t.Errorf("error = %v, want ErrInvalidSymbol", err)
			}
			if got != tt.want {
				t.Errorf("ParseSymbol(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestServer_StartJSON(t *testing.T) {
	s, pos := newTestServer(t)

	rec := do(s, http.MethodPost, "/short_averaging",
		`{"ticker":"doge","usdt_amount":"50","initial_tp_percent":2.5,"use_demo":false,"breakeven_basis":"tick"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	if len(pos.started) != 1 {
		t.Fatalf("started = %d, want 1", len(pos.started))
	}
	p := pos.started[0]
	if p.Symbol != "DOGEUSDT" {
		t.Errorf("Symbol = %s, want DOGEUSDT", p.Symbol)
	}
	if !p.UsdtAmount.Equal(decimal.NewFromInt(50)) || !p.InitialTPPercent.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("overrides = %s / %s", p.UsdtAmount, p.InitialTPPercent)
	}
	if !p.AveragingPercent.Equal(decimal.NewFromInt(10)) || !p.StopLossPercent.Equal(decimal.NewFromInt(15)) {
		t.Errorf("defaults = %s / %s", p.AveragingPercent, p.StopLossPercent)
	}
	if p.UseDemo || p.Basis != strategy.BasisTick {
		t.Errorf("UseDemo = %v, Basis = %s", p.UseDemo, p.Basis)
	}

	var resp struct {
		Status     string `json:"status"`
		Symbol     string `json:"symbol"`
		PositionID string `json:"position_id"`
		Parameters struct {
			UsdtAmount string `json:"usdt_amount"`
		} `json:"parameters"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "started" || resp.Symbol != "DOGEUSDT" || resp.PositionID != "pos-DOGEUSDT" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Parameters.UsdtAmount != "50" {
		t.Errorf("usdt_amount = %s, want 50", resp.Parameters.UsdtAmount)
	}
}

func TestServer_StartPlainText(t *testing.T) {
	s, pos := newTestServer(t)

	rec := do(s, http.MethodPost, "/short_averaging", "ALUUSDT.P: Code 1 SHORT signal!")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(pos.started) != 1 || pos.started[0].Symbol != "ALUUSDT" {
		t.Errorf("started = %+v", pos.started)
	}
}

func TestServer_StartErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"empty body", "", nil, http.StatusBadRequest},
		{"broken json", `{"symbol": `, nil, http.StatusBadRequest},
		{"no symbol", `{"usdt_amount": 10}`, nil, http.StatusBadRequest},
		{"negative amount", `{"symbol":"btc","usdt_amount":-5}`, nil, http.StatusBadRequest},
		{"bad basis", `{"symbol":"btc","breakeven_basis":"peak"}`, nil, http.StatusBadRequest},
		{"exposure", `{"symbol":"btc"}`, types.ErrExposureLimit, http.StatusTooManyRequests},
		{"kill switch", `{"symbol":"btc"}`, types.ErrKillSwitchActive, http.StatusServiceUnavailable},
		{"stopped", `{"symbol":"btc"}`, types.ErrEngineStopped, http.StatusServiceUnavailable},
		{"exchange", `{"symbol":"btc"}`, types.ErrAuthentication, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, pos := newTestServer(t)
			pos.err = tt.err

			rec := do(s, http.MethodPost, "/short_averaging", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %+v, %v", resp, err)
			}
		})
	}
}

func TestServer_DuplicateStartConflicts(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(s, http.MethodPost, "/short_averaging", `{"symbol":"btc"}`); rec.Code != http.StatusOK {
		t.Fatalf("first start status = %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/short_averaging", `{"text":"BTCUSDT"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", rec.Code)
	}
}

func TestServer_StopMonitoring(t *testing.T) {
	s, pos := newTestServer(t)
	_ = do(s, http.MethodPost, "/short_averaging", `{"symbol":"eth"}`)

	rec := do(s, http.MethodPost, "/stop_monitoring", `{"symbol":"eth","force":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if force, ok := pos.stopped["ETHUSDT"]; !ok || !force {
		t.Errorf("stopped = %v", pos.stopped)
	}

	rec = do(s, http.MethodPost, "/stop_monitoring", "xrp")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", rec.Code)
	}
}

func TestServer_ActivePositionsAndHealth(t *testing.T) {
	s, _ := newTestServer(t)
	_ = do(s, http.MethodPost, "/short_averaging", `{"symbol":"btc"}`)

	rec := do(s, http.MethodGet, "/active_positions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list struct {
		Count     int            `json:"count"`
		Positions []PositionView `json:"positions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Positions[0].Symbol != "BTCUSDT" || list.Positions[0].Status != "IDLE" {
		t.Errorf("active = %+v", list)
	}

	rec = do(s, http.MethodGet, "/health", "")
	var health map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&health)
	if health["status"] != "ok" || health["active_positions"] != float64(1) {
		t.Errorf("health = %v", health)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(s, http.MethodGet, "/short_averaging", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /short_averaging status = %d, want 405", rec.Code)
	}
}

func TestNewPositionView(t *testing.T) {
	be := decimal.RequireFromString("97")
	v := NewPositionView(types.PositionSnapshot{
		ID:             "p",
		Symbol:         "BTCUSDT",
		Status:         types.StatusAveragingPending,
		RestingOrderID: "ord-1",
		BreakevenPrice: &be,
	})
	if v.Status != "AVERAGING_PENDING" || v.AveragingOrderID != "ord-1" {
		t.Errorf("view = %+v", v)
	}
	if v.OpenedAt != nil {
		t.Error("OpenedAt should be omitted when unset")
	}
	if v.BreakevenPrice == nil || !v.BreakevenPrice.Equal(be) {
		t.Errorf("BreakevenPrice = %v", v.BreakevenPrice)
	}
}
