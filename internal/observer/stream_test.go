package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/types"
)

type fakeHandler struct {
	url      string
	connects atomic.Int32
	frames   atomic.Int32
}

func (h *fakeHandler) URL() string  { return h.url }
func (h *fakeHandler) Name() string { return "fake" }
func (h *fakeHandler) Ping() any    { return map[string]string{"op": "ping"} }

func (h *fakeHandler) OnConnect(ctx context.Context, w MessageWriter) error {
	h.connects.Add(1)
	return w.WriteJSON(map[string]string{"op": "subscribe"})
}

func (h *fakeHandler) OnMessage(ctx context.Context, msg []byte) (bool, error) {
	var frame struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return false, err
	}
	if frame.Topic == "" {
		return false, nil
	}
	h.frames.Add(1)
	return true, nil
}

var upgrader = websocket.Upgrader{}

// newWSServer starts a server that reads the subscribe frame and then runs serve.
func newWSServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStream_DeliversDataFrames(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"success":true,"op":"subscribe"}`))
		for i := 0; i < 3; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"tickers.BTCUSDT"}`))
		}
		time.Sleep(time.Second)
	})

	h := &fakeHandler{url: wsURL(srv)}
	s := NewStream(h, StreamConfig{SilenceTimeout: 5 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.frames.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, broker.StateConnected, s.State())
	assert.False(t, s.LastData().IsZero())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, broker.StateDisconnected, s.State())
}

func TestStream_ReconnectsOnSilence(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		// Acks only, never data.
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"pong"}`)); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	h := &fakeHandler{url: wsURL(srv)}
	s := NewStream(h, StreamConfig{
		SilenceTimeout: 100 * time.Millisecond,
		BaseBackoff:    10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return h.connects.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, s.Reconnects(), int64(1))
	assert.Zero(t, h.frames.Load())
}

func TestStream_ReconnectsAfterServerClose(t *testing.T) {
	var sessions atomic.Int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		sessions.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"tickers.BTCUSDT"}`))
	})

	h := &fakeHandler{url: wsURL(srv)}
	s := NewStream(h, StreamConfig{
		SilenceTimeout: time.Second,
		BaseBackoff:    10 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return sessions.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestStream_Backoff(t *testing.T) {
	s := NewStream(&fakeHandler{}, StreamConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	}, nil)

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{100, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.retry); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestReconnectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrSilence, "silence"},
		{fmt.Errorf("session: %w", ErrSilence), "silence"},
		{errors.New("read: connection reset"), "error"},
		{types.ErrConnectionLost, "error"},
	}

	for _, tt := range tests {
		if got := reconnectReason(tt.err); got != tt.want {
			t.Errorf("reconnectReason(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	assert.ErrorIs(t, ErrSilence, types.ErrConnectionLost)
}
