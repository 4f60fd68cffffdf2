package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/observer"
	"github.com/tathienbao/short-averager/internal/types"
)

type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

type wsFrame struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

// TickerHandler streams last-trade prices for one symbol from the public linear stream.
type TickerHandler struct {
	url    string
	symbol string
	out    chan<- types.Tick
}

// NewTickerHandler creates a ticker stream handler.
func NewTickerHandler(url, symbol string, out chan<- types.Tick) *TickerHandler {
	if url == "" {
		url = PublicLinearWS
	}
	return &TickerHandler{url: url, symbol: symbol, out: out}
}

// TickerFactory returns a factory for observer.StreamFeed.
func TickerFactory(url string) observer.TickHandlerFactory {
	return func(symbol string, out chan<- types.Tick) observer.StreamHandler {
		return NewTickerHandler(url, symbol, out)
	}
}

func (h *TickerHandler) URL() string  { return h.url }
func (h *TickerHandler) Name() string { return "tickers." + h.symbol }
func (h *TickerHandler) Ping() any    { return wsRequest{Op: "ping"} }

// OnConnect subscribes to the ticker topic.
func (h *TickerHandler) OnConnect(ctx context.Context, w observer.MessageWriter) error {
	return w.WriteJSON(wsRequest{Op: "subscribe", Args: []any{"tickers." + h.symbol}})
}

// OnMessage parses ticker snapshots and deltas. Deltas without lastPrice are not data.
func (h *TickerHandler) OnMessage(ctx context.Context, msg []byte) (bool, error) {
	var frame wsFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Success != nil && !*frame.Success {
		return false, fmt.Errorf("%s rejected: %s", frame.Op, frame.RetMsg)
	}
	if !strings.HasPrefix(frame.Topic, "tickers.") || len(frame.Data) == 0 {
		return false, nil
	}

	var data struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return false, fmt.Errorf("decode ticker: %w", err)
	}
	price := parseDecimal(data.LastPrice)
	if !price.IsPositive() {
		return false, nil
	}

	ts := time.Now()
	if frame.Ts > 0 {
		ts = time.UnixMilli(frame.Ts)
	}

	select {
	case h.out <- types.Tick{Symbol: h.symbol, Price: price, Time: ts}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return true, nil
}

// OrderStreamHandler receives private order updates.
type OrderStreamHandler struct {
	url       string
	apiKey    string
	apiSecret string
	out       chan<- broker.OrderUpdate
	now       func() time.Time
}

// NewOrderStreamHandler creates a private order stream handler.
func NewOrderStreamHandler(cfg Config, out chan<- broker.OrderUpdate) *OrderStreamHandler {
	url := cfg.PrivateWS
	if url == "" {
		url = DemoPrivateWS
	}
	return &OrderStreamHandler{
		url:       url,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		out:       out,
		now:       time.Now,
	}
}

func (h *OrderStreamHandler) URL() string  { return h.url }
func (h *OrderStreamHandler) Name() string { return "order" }
func (h *OrderStreamHandler) Ping() any    { return wsRequest{Op: "ping"} }

// authArgs returns key, expiry and the signature of "GET/realtime"+expiry.
func (h *OrderStreamHandler) authArgs() []any {
	expires := h.now().Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(h.apiSecret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	return []any{h.apiKey, expires, hex.EncodeToString(mac.Sum(nil))}
}

// OnConnect authenticates and subscribes to the order topic.
func (h *OrderStreamHandler) OnConnect(ctx context.Context, w observer.MessageWriter) error {
	if err := w.WriteJSON(wsRequest{Op: "auth", Args: h.authArgs()}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return w.WriteJSON(wsRequest{Op: "subscribe", Args: []any{"order"}})
}

// OnMessage publishes order updates. Order traffic is sparse, so pongs
// also count as data for the silence watchdog.
func (h *OrderStreamHandler) OnMessage(ctx context.Context, msg []byte) (bool, error) {
	var frame wsFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Success != nil && !*frame.Success {
		return false, fmt.Errorf("%s rejected: %s: %w", frame.Op, frame.RetMsg, types.ErrAuthentication)
	}
	if frame.Op == "pong" {
		return true, nil
	}
	if frame.Topic != "order" {
		return false, nil
	}

	var orders []rawOrder
	if err := json.Unmarshal(frame.Data, &orders); err != nil {
		return false, fmt.Errorf("decode orders: %w", err)
	}

	for _, o := range orders {
		u := broker.OrderUpdate{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Status:     broker.OrderStatus(o.OrderStatus),
			AvgPrice:   parseDecimal(o.AvgPrice),
			CumExecQty: parseDecimal(o.CumExecQty),
			UpdatedAt:  parseMillis(o.UpdatedTime),
		}
		select {
		case h.out <- u:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}
