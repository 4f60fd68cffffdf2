// Package api exposes the HTTP control surface: start a position from a
// signal, stop monitoring a symbol and list active positions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

const maxBodyBytes = 64 << 10

// Positions is the registry the API drives.
type Positions interface {
	Start(ctx context.Context, params strategy.Params) (types.PositionSnapshot, error)
	Stop(symbol string, force bool) error
	List() []types.PositionSnapshot
	ActiveCount() int
}

// Server serves the control API.
type Server struct {
	positions  Positions
	defaults   strategy.Params
	logger     *slog.Logger
	mux        *http.ServeMux
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a control API listening on addr. defaults fill in the
// parameters a request leaves out.
func NewServer(addr string, positions Positions, defaults strategy.Params, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		positions: positions,
		defaults:  defaults,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /short_averaging", s.handleStart)
	s.mux.HandleFunc("POST /stop_monitoring", s.handleStop)
	s.mux.HandleFunc("GET /active_positions", s.handleActive)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves in the background.
func (s *Server) Start() error {
	s.logger.Info("starting control api", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control api error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down control api")
	return s.httpServer.Shutdown(ctx)
}

// PositionView is the JSON form of a position snapshot.
type PositionView struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Status            string           `json:"status"`
	Quantity          decimal.Decimal  `json:"quantity"`
	EntryPrice        decimal.Decimal  `json:"entry_price"`
	AveragedPrice     *decimal.Decimal `json:"averaged_price,omitempty"`
	IsAveraged        bool             `json:"is_averaged"`
	AveragingOrderID  string           `json:"averaging_order_id,omitempty"`
	TakeProfitPrice   decimal.Decimal  `json:"take_profit_price"`
	BreakevenPrice    *decimal.Decimal `json:"breakeven_price,omitempty"`
	StopLossPrice     *decimal.Decimal `json:"stop_loss_price,omitempty"`
	BestProfitPercent decimal.Decimal  `json:"best_profit_percent"`
	LastPrice         decimal.Decimal  `json:"last_price"`
	UsdtAmount        decimal.Decimal  `json:"usdt_amount"`
	LastError         string           `json:"last_error,omitempty"`
	OpenedAt          *time.Time       `json:"opened_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewPositionView converts a snapshot.
func NewPositionView(p types.PositionSnapshot) PositionView {
	v := PositionView{
		ID:                p.ID,
		Symbol:            p.Symbol,
		Status:            p.Status.String(),
		Quantity:          p.Quantity,
		EntryPrice:        p.EntryPrice,
		AveragedPrice:     p.AveragedPrice,
		IsAveraged:        p.IsAveraged,
		AveragingOrderID:  p.RestingOrderID,
		TakeProfitPrice:   p.TakeProfitPrice,
		BreakevenPrice:    p.BreakevenPrice,
		StopLossPrice:     p.StopLossPrice,
		BestProfitPercent: p.BestProfitPercent,
		LastPrice:         p.LastPrice,
		UsdtAmount:        p.UsdtAmount,
		LastError:         p.LastError,
		UpdatedAt:         p.UpdatedAt,
	}
	if !p.OpenedAt.IsZero() {
		opened := p.OpenedAt
		v.OpenedAt = &opened
	}
	return v
}

type paramsView struct {
	UsdtAmount       decimal.Decimal `json:"usdt_amount"`
	AveragingPercent decimal.Decimal `json:"averaging_percent"`
	InitialTPPercent decimal.Decimal `json:"initial_tp_percent"`
	BreakevenStep    decimal.Decimal `json:"breakeven_step"`
	StopLossPercent  decimal.Decimal `json:"stop_loss_percent"`
	UseDemo          bool            `json:"use_demo"`
	BreakevenBasis   string          `json:"breakeven_basis"`
}

type startResponse struct {
	Status     string       `json:"status"`
	Symbol     string       `json:"symbol"`
	Strategy   string       `json:"strategy"`
	PositionID string       `json:"position_id"`
	Parameters paramsView   `json:"parameters"`
	Position   PositionView `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := readBody(r, &req, func(t string) { req = startRequest{Text: t} }); err != nil {
		s.logger.Warn("unreadable start request", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, err := req.params(s.defaults)
	if err != nil {
		s.logger.Warn("rejected start request", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("start request",
		"symbol", params.Symbol,
		"usdt_amount", params.UsdtAmount,
		"averaging_percent", params.AveragingPercent,
		"initial_tp_percent", params.InitialTPPercent,
		"breakeven_step", params.BreakevenStep,
		"stop_loss_percent", params.StopLossPercent,
		"demo", params.UseDemo,
	)

	snap, err := s.positions.Start(r.Context(), params)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("start failed", "symbol", params.Symbol, "status", status, "err", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Status:     "started",
		Symbol:     params.Symbol,
		Strategy:   "short_averaging",
		PositionID: snap.ID,
		Parameters: paramsView{
			UsdtAmount:       params.UsdtAmount,
			AveragingPercent: params.AveragingPercent,
			InitialTPPercent: params.InitialTPPercent,
			BreakevenStep:    params.BreakevenStep,
			StopLossPercent:  params.StopLossPercent,
			UseDemo:          params.UseDemo,
			BreakevenBasis:   string(params.Basis),
		},
		Position: NewPositionView(snap),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := readBody(r, &req, func(t string) { req = stopRequest{Text: t} }); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	symbol, err := ParseSymbol(firstSymbol(req.Text, req.Ticker, req.Symbol))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.positions.Stop(symbol, req.Force); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Info("stop requested", "symbol", symbol, "force", req.Force)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "stopping",
		"symbol": symbol,
		"force":  req.Force,
	})
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	list := s.positions.List()
	views := make([]PositionView, 0, len(list))
	for _, p := range list {
		views = append(views, NewPositionView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(views),
		"positions": views,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_positions": s.positions.ActiveCount(),
		"uptime":           time.Since(s.startTime).Round(time.Second).String(),
	})
}

func readBody(r *http.Request, dst any, setText func(string)) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return decodeBody(body, dst, setText)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrPositionExists):
		return http.StatusConflict
	case errors.Is(err, types.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidParams), errors.Is(err, types.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrExposureLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrEngineStopped), errors.Is(err, types.ErrKillSwitchActive):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
