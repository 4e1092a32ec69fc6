// Package brokerage is the HTTP client for the upstream brokerage API. It
// handles TOTP login, session headers, request throttling, and the three
// endpoints the copy engine needs: order placement, holdings, and the
// activity (fills) feed.
//
// Usage example:
//
//	bc := brokerage.New(brokerage.Config{
//	    APIKey: "key", ClientCode: "CLIENT1", Password: "pin", TOTPSecret: "BASE32SECRET",
//	})
//	if err := bc.Login(ctx); err != nil { log.Fatal(err) }
//	orderID, err := bc.PlaceOrder(ctx, "auth-1", "ACC-1", "AAPL", model.SideBuy, 4)
package brokerage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"copy-systemv1/internal/model"
)

// ErrSessionExpired is returned when the brokerage rejects the session
// token. SessionExpiryHook fires alongside it.
var ErrSessionExpired = errors.New("brokerage session expired")

// Config configures the brokerage client.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string // base32 secret for the login TOTP

	RootURL   string        // default: https://api.brokerage.example.com
	Timeout   time.Duration // default: 7s
	RateLimit rate.Limit    // requests per second, default: 10
	Burst     int           // default: 5
}

const defaultRoot = "https://api.brokerage.example.com"

var routes = map[string]string{
	"auth.login":         "/rest/auth/v1/loginByPassword",
	"auth.logout":        "/rest/secure/v1/logout",
	"order.place":        "/rest/secure/order/v1/placeOrder",
	"portfolio.holdings": "/rest/secure/portfolio/v1/getHoldings",
	"account.activities": "/rest/secure/account/v1/getActivities",
}

// Client talks to the brokerage REST API. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.RWMutex
	accessToken string

	// SessionExpiryHook is called when the brokerage returns 403; wire it to
	// a re-login or an operator alert.
	SessionExpiryHook func()
}

// New initializes the client. Call Login before the secure endpoints.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.Burst),
	}
}

// Login generates the current TOTP and exchanges credentials for a session
// token.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generating totp: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "auth.login", "", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	token, _ := data["access_token"].(string)
	if token == "" {
		return fmt.Errorf("login: response missing access_token")
	}
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
	log.Printf("[brokerage] logged in as %s", c.cfg.ClientCode)
	return nil
}

// Logout invalidates the session token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "auth.logout", "", map[string]any{
		"clientcode": c.cfg.ClientCode,
	})
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	return nil
}

// ── model.Brokerage ──

// PlaceOrder submits a market order under the follower's authorization and
// returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, authorizationID, accountNumber, symbol string, side model.Side, qty int64) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "order.place", authorizationID, map[string]any{
		"account_number": accountNumber,
		"symbol":         symbol,
		"side":           string(side),
		"qty":            qty,
		"order_type":     "MARKET",
		"duration":       "DAY",
	})
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	orderID, _ := data["order_id"].(string)
	if orderID == "" {
		return "", fmt.Errorf("place order: response missing order_id")
	}
	return orderID, nil
}

// GetHoldings returns the account's holdings under the given authorization.
func (c *Client) GetHoldings(ctx context.Context, authorizationID string) ([]model.Holding, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "portfolio.holdings", authorizationID, nil)
	if err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}

	rows, _ := data["holdings"].([]any)
	holdings := make([]model.Holding, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		holdings = append(holdings, model.Holding{
			Symbol:      toString(row["symbol"]),
			Qty:         toInt64(row["qty"]),
			MarketValue: toInt64(row["market_value"]),
		})
	}
	return holdings, nil
}

// GetActivities returns fills at or after since, oldest first.
func (c *Client) GetActivities(ctx context.Context, authorizationID string, since time.Time) ([]model.Fill, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "account.activities", authorizationID, map[string]any{
		"since": since.UTC().Format(time.RFC3339),
		"type":  "FILL",
	})
	if err != nil {
		return nil, fmt.Errorf("get activities: %w", err)
	}

	rows, _ := data["activities"].([]any)
	fills := make([]model.Fill, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		filledAt, _ := time.Parse(time.RFC3339, toString(row["filled_at"]))
		fills = append(fills, model.Fill{
			Symbol:   toString(row["symbol"]),
			Side:     model.Side(toString(row["side"])),
			Qty:      toInt64(row["qty"]),
			Price:    toInt64(row["price"]),
			FilledAt: filledAt,
		})
	}
	return fills, nil
}

// ── request plumbing ──

func (c *Client) requestHeaders(authorizationID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-API-Key", c.cfg.APIKey)
	h.Set("X-Client-Code", c.cfg.ClientCode)
	if authorizationID != "" {
		h.Set("X-Authorization-ID", authorizationID)
	}
	c.mu.RLock()
	if c.accessToken != "" {
		h.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.RUnlock()
	return h
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return strings.TrimRight(c.cfg.RootURL, "/") + uri, nil
}

// doRequest throttles, sends, and decodes one API call. The response envelope
// is {"status": bool, "message": string, "data": {...}}.
func (c *Client) doRequest(ctx context.Context, method, route, authorizationID string, params map[string]any) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := c.buildURL(route)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, toString(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.requestHeaders(authorizationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden {
		if c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return nil, ErrSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, route, resp.StatusCode, truncate(raw, 200))
	}

	var envelope struct {
		Status  bool           `json:"status"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !envelope.Status {
		return nil, fmt.Errorf("%s %s: %s", method, route, envelope.Message)
	}
	return envelope.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}
