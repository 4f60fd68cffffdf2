package bybit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/types"
)

var _ broker.Gateway = (*Client)(nil)

type orderList struct {
	List []rawOrder `json:"list"`
}

type rawOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
	CumExecQty  string `json:"cumExecQty"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

func (o rawOrder) toOrder() broker.Order {
	return broker.Order{
		OrderID:     o.OrderID,
		OrderLinkID: o.OrderLinkID,
		Symbol:      o.Symbol,
		Side:        broker.SideFromExchange(o.Side),
		Type:        broker.OrderType(o.OrderType),
		Qty:         parseDecimal(o.Qty),
		Price:       parseDecimal(o.Price),
		Status:      broker.OrderStatus(o.OrderStatus),
		CumExecQty:  parseDecimal(o.CumExecQty),
		AvgPrice:    parseDecimal(o.AvgPrice),
		CreatedAt:   parseMillis(o.CreatedTime),
		UpdatedAt:   parseMillis(o.UpdatedTime),
	}
}

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceMarketOrder places a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*broker.OrderResult, error) {
	req := createOrderRequest{
		Category:    categoryLinear,
		Symbol:      symbol,
		Side:        side.OrderSide(),
		OrderType:   string(broker.OrderTypeMarket),
		Qty:         qty.String(),
		OrderLinkID: uuid.NewString(),
		ReduceOnly:  reduceOnly,
	}

	res, err := c.createOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	return &broker.OrderResult{
		OrderID:     res.OrderID,
		OrderLinkID: res.OrderLinkID,
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		Status:      broker.OrderStatusNew,
		SubmittedAt: c.now(),
	}, nil
}

// PlaceLimitOrder places a GTC limit order and returns its order ID.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (string, error) {
	req := createOrderRequest{
		Category:    categoryLinear,
		Symbol:      symbol,
		Side:        side.OrderSide(),
		OrderType:   string(broker.OrderTypeLimit),
		Qty:         qty.String(),
		Price:       price.String(),
		TimeInForce: "GTC",
		OrderLinkID: uuid.NewString(),
	}

	res, err := c.createOrder(ctx, req)
	if err != nil {
		return "", err
	}
	return res.OrderID, nil
}

func (c *Client) createOrder(ctx context.Context, req createOrderRequest) (*createOrderResult, error) {
	if req.Side == "" {
		return nil, fmt.Errorf("create order: %w: no side", types.ErrOrderRejected)
	}

	var res createOrderResult
	if err := c.post(ctx, "/v5/order/create", req, &res); err != nil {
		return nil, fmt.Errorf("create %s order: %w", req.OrderType, err)
	}

	c.logger.Debug("order created",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.OrderType,
		"qty", req.Qty,
		"price", req.Price,
		"order_id", res.OrderID,
	)
	return &res, nil
}

// CancelOrder cancels an order. An order the exchange no longer knows is treated as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	if err := c.post(ctx, "/v5/order/cancel", body, nil); err != nil {
		if IsOrderNotFound(err) {
			c.logger.Debug("cancel: order already gone", "symbol", symbol, "order_id", orderID)
			return nil
		}
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOpenOrders returns orders still resting on the book.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	orders, err := c.queryOrders(ctx, "/v5/order/realtime", symbol, "")
	if err != nil {
		return nil, err
	}

	open := orders[:0]
	for _, o := range orders {
		if !o.Status.IsFinal() {
			open = append(open, o)
		}
	}
	return open, nil
}

// IsOrderFilled checks the open list first, then order history.
func (c *Client) IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	active, err := c.queryOrders(ctx, "/v5/order/realtime", symbol, orderID)
	if err != nil {
		return false, err
	}
	for _, o := range active {
		if o.OrderID == orderID && !o.Status.IsFinal() {
			return false, nil
		}
	}

	history, err := c.queryOrders(ctx, "/v5/order/history", symbol, orderID)
	if err != nil {
		return false, err
	}
	for _, o := range history {
		if o.OrderID == orderID {
			return o.Status == broker.OrderStatusFilled, nil
		}
	}
	return false, nil
}

func (c *Client) queryOrders(ctx context.Context, path, symbol, orderID string) ([]broker.Order, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	if orderID != "" {
		params.Set("orderId", orderID)
	}

	var res orderList
	if err := c.get(ctx, path, params, true, &res); err != nil {
		return nil, fmt.Errorf("query orders %s: %w", path, err)
	}

	orders := make([]broker.Order, 0, len(res.List))
	for _, o := range res.List {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

type positionList struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		UpdatedTime   string `json:"updatedTime"`
	} `json:"list"`
}

// GetPositions returns all position entries for a symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)

	var res positionList
	if err := c.get(ctx, "/v5/position/list", params, true, &res); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	positions := make([]broker.Position, 0, len(res.List))
	for _, p := range res.List {
		positions = append(positions, broker.Position{
			Symbol:        p.Symbol,
			Side:          broker.SideFromExchange(p.Side),
			Size:          parseDecimal(p.Size),
			AvgPrice:      parseDecimal(p.AvgPrice),
			MarkPrice:     parseDecimal(p.MarkPrice),
			UnrealizedPnL: parseDecimal(p.UnrealisedPnl),
			UpdatedAt:     parseMillis(p.UpdatedTime),
		})
	}
	return positions, nil
}

// GetPositionSize returns the total open size for a symbol.
func (c *Client) GetPositionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Size.Abs())
	}
	return total, nil
}

// GetPositionAvgPrice returns the exchange average entry price of an open position.
func (c *Client) GetPositionAvgPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return decimal.Zero, false, err
	}

	for _, p := range positions {
		if p.Size.IsPositive() && p.AvgPrice.IsPositive() {
			return p.AvgPrice, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// GetLastPrice returns the ticker last price.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)

	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", params, false, &res); err != nil {
		return decimal.Zero, fmt.Errorf("get ticker: %w", err)
	}

	for _, t := range res.List {
		if price := parseDecimal(t.LastPrice); price.IsPositive() {
			return price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("ticker %s: %w", symbol, broker.ErrNoPrice)
}

// InstrumentRules fetches lot size and price filters for a symbol.
func (c *Client) InstrumentRules(ctx context.Context, symbol string) (types.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)

	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/instruments-info", params, false, &res); err != nil {
		return types.InstrumentRules{}, fmt.Errorf("get instrument info: %w", err)
	}

	for _, inst := range res.List {
		if inst.Symbol != symbol {
			continue
		}
		step := parseDecimal(inst.LotSizeFilter.QtyStep)
		if !step.IsPositive() {
			return types.InstrumentRules{}, fmt.Errorf("instrument %s: %w: qtyStep %q", symbol, types.ErrInvalidData, inst.LotSizeFilter.QtyStep)
		}
		return types.InstrumentRules{
			Symbol:    symbol,
			QtyStep:   step,
			MinQty:    parseDecimal(inst.LotSizeFilter.MinOrderQty),
			MaxQty:    parseDecimal(inst.LotSizeFilter.MaxOrderQty),
			PriceTick: parseDecimal(inst.PriceFilter.TickSize),
		}, nil
	}
	return types.InstrumentRules{}, fmt.Errorf("instrument %s: %w", symbol, types.ErrInstrumentNotFound)
}

// Ping checks connectivity with the public server time endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.get(ctx, "/v5/market/time", url.Values{}, false, nil)
}
