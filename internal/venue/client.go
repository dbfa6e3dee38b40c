package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/smartstocktrader/ultrabot/internal/market"
	"github.com/smartstocktrader/ultrabot/internal/observ"
)

// ClientConfig configures the gateway REST client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	Timeout        time.Duration
	RatePerSecond  int
	ReadMaxRetries int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Client talks to the terminal gateway over HTTP. Requests carry a short-
// lived HS256 bearer token. Read-only calls go through a circuit breaker and
// a bounded retry loop; order placement and closes are sent exactly once.
type Client struct {
	cfg     ClientConfig
	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.ReadMaxRetries == 0 {
		cfg.ReadMaxRetries = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:     "venue-reads",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// bearerToken signs a short-lived token for one request.
func (c *Client) bearerToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": c.cfg.APIKey,
		"aud": "terminal_gateway",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"jti": uuid.New().String(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(c.cfg.APISecret))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("new request %s: %w", path, err)
	}
	token, err := c.bearerToken()
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ultrabot/gateway")

	start := time.Now()
	res, err := c.hc.Do(req)
	observ.VenueLatency.WithLabelValues(method + " " + path).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: auth failed (%d)", ErrUnavailable, res.StatusCode)
	}
	if res.StatusCode >= 500 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%w: %s %d: %s", ErrUnavailable, path, res.StatusCode, string(b))
	}
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("gateway %s %d: %s", path, res.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// read wraps idempotent GETs with the breaker and a bounded backoff retry.
func (c *Client) read(ctx context.Context, op, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ReadMaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase << (attempt - 1)
			if delay > c.cfg.BackoffMax {
				delay = c.cfg.BackoffMax
			}
			delay += time.Duration(rand.Int63n(int64(c.cfg.BackoffBase)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.do(ctx, http.MethodGet, path, nil, out)
		})
		if err == nil {
			observ.VenueCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		lastErr = err
		observ.VenueCalls.WithLabelValues(op, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// PlaceOrder submits a market order. Sent exactly once: a transport failure
// here surfaces as an error and is never retried by this client.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var out OrderResult
	if err := c.do(ctx, http.MethodPost, "/order", req, &out); err != nil {
		observ.VenueCalls.WithLabelValues("place_order", "error").Inc()
		return OrderResult{}, err
	}
	outcome := "rejected"
	if out.Success {
		outcome = "ok"
	}
	observ.VenueCalls.WithLabelValues("place_order", outcome).Inc()
	return out, nil
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]LivePosition, error) {
	path := "/positions"
	if symbol != "" {
		path += "?symbol=" + url.QueryEscape(symbol)
	}
	var out struct {
		Positions []LivePosition `json:"positions"`
	}
	if err := c.read(ctx, "positions", path, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	var out AccountInfo
	if err := c.read(ctx, "account", "/account", &out); err != nil {
		return AccountInfo{}, err
	}
	return out, nil
}

// ClosePosition closes volume lots of the ticket (0 closes the full
// position). Like PlaceOrder, it is sent exactly once.
func (c *Client) ClosePosition(ctx context.Context, ticket string, volume float64) (CloseResult, error) {
	body := map[string]any{"ticket": ticket, "volume": volume}
	var out CloseResult
	if err := c.do(ctx, http.MethodPost, "/close", body, &out); err != nil {
		observ.VenueCalls.WithLabelValues("close_position", "error").Inc()
		return CloseResult{}, err
	}
	outcome := "rejected"
	if out.Success {
		outcome = "ok"
	}
	observ.VenueCalls.WithLabelValues("close_position", outcome).Inc()
	return out, nil
}

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (SymbolConstraints, error) {
	var out SymbolConstraints
	if err := c.read(ctx, "symbol_info", "/symbol/"+url.PathEscape(symbol), &out); err != nil {
		return SymbolConstraints{}, err
	}
	return out, nil
}

func (c *Client) Candles(ctx context.Context, symbol string, limit int) ([]market.Candle, error) {
	path := "/candles?symbol=" + url.QueryEscape(symbol) + "&limit=" + strconv.Itoa(limit)
	var out struct {
		Candles []market.Candle `json:"candles"`
	}
	if err := c.read(ctx, "candles", path, &out); err != nil {
		return nil, err
	}
	return out.Candles, nil
}
