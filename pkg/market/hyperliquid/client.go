// Package hyperliquid reads public market data from the Hyperliquid info
// endpoint: mid prices, candle snapshots and L2 depth.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL          = "https://api.hyperliquid.xyz/info"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
	maxRetryBackoff         = 5 * time.Second
)

// ErrSymbolNotFound indicates the requested symbol is not listed.
var ErrSymbolNotFound = errors.New("hyperliquid: symbol not found")

// retryableStatuses are transient upstream conditions worth another try.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	529:                           true, // overloaded, non-standard but seen in the wild
}

// Client wraps the Hyperliquid info endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int

	symbolsMu   sync.RWMutex
	symbolIndex map[string]string // normalized key -> canonical coin
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default info endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// NewClient constructs a Hyperliquid info client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:  defaultMaxRetries,
		symbolIndex: make(map[string]string),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// doRequest posts an info request with capped exponential backoff and
// jitter on retryable statuses, honoring Retry-After when present.
func (c *Client) doRequest(ctx context.Context, req infoRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode request: %w", err)
	}
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("hyperliquid: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		wait := backoff
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("hyperliquid: read response: %w", readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if result != nil {
					if err := json.Unmarshal(body, result); err != nil {
						return fmt.Errorf("hyperliquid: decode response: %w", err)
					}
				}
				return nil
			case !retryableStatuses[resp.StatusCode]:
				return fmt.Errorf("hyperliquid: http status %d: %s", resp.StatusCode, string(body))
			default:
				lastErr = fmt.Errorf("hyperliquid: http status %d: %s", resp.StatusCode, string(body))
				if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
					wait = after
				}
			}
		}

		if attempt == c.maxRetries {
			break
		}
		wait += time.Duration(rand.Int63n(int64(defaultRetryBackoffBase)))
		if wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			backoff *= 2
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("hyperliquid: request failed without error detail")
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (c *Client) refreshSymbolDirectory(ctx context.Context) error {
	var payload metaAndAssetCtxsResponse
	if err := c.doRequest(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &payload); err != nil {
		return err
	}
	index := make(map[string]string, len(payload.Universe))
	for _, entry := range payload.Universe {
		canonical := strings.TrimSpace(entry.Name)
		if canonical == "" || entry.IsDelisted {
			continue
		}
		if key := normalizeKey(canonical); key != "" {
			index[key] = canonical
		}
	}
	c.symbolsMu.Lock()
	c.symbolIndex = index
	c.symbolsMu.Unlock()
	return nil
}

func (c *Client) canonicalSymbolFor(ctx context.Context, symbol string) (string, error) {
	if canonical, ok := c.canonicalFromCache(symbol); ok {
		return canonical, nil
	}
	if err := c.refreshSymbolDirectory(ctx); err != nil {
		return "", err
	}
	if canonical, ok := c.canonicalFromCache(symbol); ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

func (c *Client) canonicalFromCache(symbol string) (string, bool) {
	key := normalizeKey(symbol)
	if key == "" {
		return "", false
	}
	c.symbolsMu.RLock()
	canonical, ok := c.symbolIndex[key]
	c.symbolsMu.RUnlock()
	return canonical, ok
}

// normalizeKey strips quote/contract suffixes so "BTCUSDT", "BTC-PERP" and
// "BTC" resolve to the same listing.
func normalizeKey(symbol string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimSuffix(trimmed, "-PERP")
	trimmed = strings.TrimSuffix(trimmed, "-USD")
	if len(trimmed) > 4 && strings.HasSuffix(trimmed, "USDT") {
		trimmed = trimmed[:len(trimmed)-4]
	}
	return trimmed
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// SupportedInterval reports whether the venue serves this candle interval.
func SupportedInterval(interval string) bool {
	_, ok := intervalDurations[interval]
	return ok
}

// GetKlines fetches OHLCV bars, oldest first, trimmed to limit.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]kline, error) {
	duration, ok := intervalDurations[interval]
	if !ok {
		return nil, fmt.Errorf("hyperliquid: unsupported interval %q", interval)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("hyperliquid: limit must be positive")
	}
	canonical, err := c.canonicalSymbolFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	endTime := time.Now().UTC()
	startTime := endTime.Add(-duration * time.Duration(limit+10))

	var response candleResponse
	if err := c.doRequest(ctx, infoRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotRequest{
			Coin:      canonical,
			Interval:  interval,
			StartTime: startTime.UnixMilli(),
			EndTime:   endTime.UnixMilli(),
		},
	}, &response); err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, fmt.Errorf("hyperliquid: empty kline response for %s %s", canonical, interval)
	}

	klines := make([]kline, 0, len(response))
	for _, item := range response {
		klines = append(klines, kline{
			OpenTime:  item.T,
			Open:      item.O,
			High:      item.H,
			Low:       item.L,
			Close:     item.C,
			Volume:    item.V,
			CloseTime: item.TClose,
		})
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// GetAllMids returns the current mid price for every listed coin.
func (c *Client) GetAllMids(ctx context.Context) (map[string]float64, error) {
	var payload map[string]string
	if err := c.doRequest(ctx, infoRequest{Type: "allMids"}, &payload); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(payload))
	for coin, raw := range payload {
		if strings.HasPrefix(coin, "@") {
			// Spot pair indices, not perp listings.
			continue
		}
		px, err := strconv.ParseFloat(raw, 64)
		if err != nil || px <= 0 {
			continue
		}
		out[coin] = px
	}
	return out, nil
}

// GetL2Book fetches depth for a coin.
func (c *Client) GetL2Book(ctx context.Context, symbol string) (*l2BookResponse, error) {
	canonical, err := c.canonicalSymbolFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var payload l2BookResponse
	if err := c.doRequest(ctx, infoRequest{
		Type: "l2Book",
		Coin: canonical,
	}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
