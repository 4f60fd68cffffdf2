package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/metrics"
	"github.com/tathienbao/short-averager/internal/types"
)

// ErrSilence is returned when a connection delivers no data within the silence window.
var ErrSilence = fmt.Errorf("%w: no data within silence window", types.ErrConnectionLost)

// MessageWriter sends a frame on the current connection.
type MessageWriter interface {
	WriteJSON(v any) error
}

// StreamHandler supplies the exchange-specific parts of a Stream.
type StreamHandler interface {
	// URL returns the endpoint to dial.
	URL() string
	// OnConnect authenticates and subscribes on a fresh connection.
	OnConnect(ctx context.Context, w MessageWriter) error
	// OnMessage handles one frame. data reports whether the frame counts
	// toward liveness, typically ticks or order updates rather than acks.
	OnMessage(ctx context.Context, msg []byte) (data bool, err error)
	// Ping returns the application heartbeat frame, or nil for none.
	Ping() any
	// Name identifies the stream in logs and metrics.
	Name() string
}

// StreamConfig holds reconnect and heartbeat settings.
type StreamConfig struct {
	SilenceTimeout   time.Duration
	PingInterval     time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns the default stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SilenceTimeout:   20 * time.Second,
		PingInterval:     10 * time.Second,
		BaseBackoff:      1 * time.Second,
		MaxBackoff:       60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Stream keeps one websocket subscription alive. It reconnects on read errors
// and whenever no data frame arrives within SilenceTimeout.
type Stream struct {
	handler  StreamHandler
	cfg      StreamConfig
	logger   *slog.Logger
	recorder *metrics.Recorder
	dialer   *websocket.Dialer

	state      atomic.Int32
	reconnects atomic.Int64
	lastData   atomic.Int64 // unix nanos
}

// NewStream creates a new stream for the handler.
func NewStream(handler StreamHandler, cfg StreamConfig, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultStreamConfig()
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	s := &Stream{
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With("stream", handler.Name()),
		recorder: metrics.NewRecorder(),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
	s.state.Store(int32(broker.StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Stream) State() broker.ConnectionState {
	return broker.ConnectionState(s.state.Load())
}

// Reconnects returns how many times the stream has re-dialed.
func (s *Stream) Reconnects() int64 {
	return s.reconnects.Load()
}

// LastData returns the time of the last data frame.
func (s *Stream) LastData() time.Time {
	n := s.lastData.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run dials and re-dials until ctx is cancelled. It never returns on its own.
func (s *Stream) Run(ctx context.Context) {
	retry := 0
	for {
		if ctx.Err() != nil {
			s.state.Store(int32(broker.StateDisconnected))
			return
		}

		s.state.Store(int32(broker.StateConnecting))
		gotData, err := s.session(ctx)
		if ctx.Err() != nil {
			s.state.Store(int32(broker.StateDisconnected))
			return
		}

		s.state.Store(int32(broker.StateError))
		s.reconnects.Add(1)
		s.recorder.RecordFeedReconnect(s.handler.Name(), reconnectReason(err))
		if gotData {
			retry = 0
		}

		delay := s.backoff(retry)
		retry++
		s.logger.Warn("stream disconnected, reconnecting",
			"err", err,
			"delay", delay,
			"reconnects", s.reconnects.Load(),
		)

		select {
		case <-ctx.Done():
			s.state.Store(int32(broker.StateDisconnected))
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails. gotData reports whether any
// data frame was received on it.
func (s *Stream) session(ctx context.Context) (gotData bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.handler.URL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &connWriter{conn: conn}
	var closeOnce sync.Once
	var silenced atomic.Bool
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	if err := s.handler.OnConnect(sessCtx, w); err != nil {
		return false, fmt.Errorf("on connect: %w", err)
	}

	s.state.Store(int32(broker.StateConnected))
	s.recorder.RecordFeedStatus(s.handler.Name(), true)
	defer s.recorder.RecordFeedStatus(s.handler.Name(), false)
	s.logger.Info("stream connected", "url", s.handler.URL())

	connectedAt := time.Now()
	s.lastData.Store(connectedAt.UnixNano())

	go func() {
		<-sessCtx.Done()
		closeConn()
	}()
	go s.watchdog(sessCtx, &silenced, closeConn)
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(sessCtx, w, closeConn)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if silenced.Load() {
				return gotData, ErrSilence
			}
			return gotData, fmt.Errorf("read: %w", err)
		}

		data, herr := s.handler.OnMessage(sessCtx, msg)
		if herr != nil {
			s.logger.Debug("stream message dropped", "err", herr)
			continue
		}
		if data {
			gotData = true
			s.lastData.Store(time.Now().UnixNano())
		}
	}
}

func (s *Stream) watchdog(ctx context.Context, silenced *atomic.Bool, closeConn func()) {
	interval := s.cfg.SilenceTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(s.LastData()) >= s.cfg.SilenceTimeout {
				s.logger.Warn("no data received, forcing reconnect",
					"silence", s.cfg.SilenceTimeout,
				)
				silenced.Store(true)
				closeConn()
				return
			}
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, w *connWriter, closeConn func()) {
	ping := s.handler.Ping()
	if ping == nil {
		return
	}

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteJSON(ping); err != nil {
				s.logger.Warn("stream ping failed", "err", err)
				closeConn()
				return
			}
		}
	}
}

// backoff returns BaseBackoff * 2^retry capped at MaxBackoff.
func (s *Stream) backoff(retry int) time.Duration {
	if retry <= 0 {
		return s.cfg.BaseBackoff
	}
	if retry > 30 {
		return s.cfg.MaxBackoff
	}
	d := s.cfg.BaseBackoff * time.Duration(1<<retry)
	if d > s.cfg.MaxBackoff || d <= 0 {
		return s.cfg.MaxBackoff
	}
	return d
}

func reconnectReason(err error) string {
	if errors.Is(err, ErrSilence) {
		return "silence"
	}
	return "error"
}

// connWriter serializes writes; gorilla connections allow one concurrent writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteJSON(v)
}
