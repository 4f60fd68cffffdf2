package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
	"golang.org/x/time/rate"
)

// APIError is a non-zero retCode returned by the exchange.
type APIError struct {
	Code int
	Msg  string
	err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Msg)
}

// Unwrap returns the matching sentinel error, if any.
func (e *APIError) Unwrap() error {
	return e.err
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Client is a signed REST client for the v5 API.
type Client struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client

	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient creates a new Bybit REST client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DemoURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = 10
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		now:     time.Now,
	}
}

// sign returns the hex HMAC-SHA256 of timestamp+key+recvWindow+payload.
func (c *Client) sign(timestamp, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp + c.cfg.APIKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) setAuthHeaders(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10)

	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, recvWindow, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
}

// get performs a GET and decodes result into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out any) error {
	query := params.Encode()
	endpoint := c.cfg.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if signed {
		c.setAuthHeaders(req, query)
	}

	return c.do(req, out)
}

// post performs a signed POST with a JSON body and decodes result into out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, string(payload))

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", req.URL.Path, types.ErrRateLimitExceeded)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: http status %d: %s", req.URL.Path, resp.StatusCode, truncate(body, 200))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if err := mapRetCode(env.RetCode, env.RetMsg); err != nil {
		return err
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("parse result: %w", err)
	}
	return nil
}

// mapRetCode converts a v5 retCode into an error.
// https://bybit-exchange.github.io/docs/v5/error
func mapRetCode(code int, msg string) error {
	if code == 0 {
		return nil
	}

	apiErr := &APIError{Code: code, Msg: msg}
	switch code {
	case 110001, 170213:
		apiErr.err = types.ErrOrderNotFound
	case 10006, 10018:
		apiErr.err = types.ErrRateLimitExceeded
	case 10003, 10004, 10005:
		apiErr.err = types.ErrAuthentication
	case 110004, 110007, 110012:
		apiErr.err = types.ErrInsufficientBalance
	case 110017, 110094, 170136, 170137:
		apiErr.err = types.ErrInvalidOrderSize
	default:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "not exists") || strings.Contains(lower, "not found") {
			apiErr.err = types.ErrOrderNotFound
		} else {
			apiErr.err = types.ErrOrderRejected
		}
	}
	return apiErr
}

// IsOrderNotFound reports whether err means the exchange does not know the order.
func IsOrderNotFound(err error) bool {
	if errors.Is(err, types.ErrOrderNotFound) {
		return true
	}
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "not exists") || strings.Contains(lower, "not found")
}

// parseDecimal parses exchange numeric strings; empty or invalid values are zero.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
