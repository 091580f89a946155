// Package hyperliquid implements the live execution venue: a signed
// exchange client plus the broker.Executor adapter the router drives.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	mainnetInfoURL     = "https://api.hyperliquid.xyz/info"
	mainnetExchangeURL = "https://api.hyperliquid.xyz/exchange"
	testnetInfoURL     = "https://api.hyperliquid-testnet.xyz/info"
	testnetExchangeURL = "https://api.hyperliquid-testnet.xyz/exchange"

	defaultHTTPTimeout  = 30 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryAttempts    = 3
)

// Client performs signed exchange actions and unauthenticated info reads.
type Client struct {
	infoURL     string
	exchangeURL string
	httpClient  *http.Client
	signer      Signer
	address     string // signer wallet address
	mainAddress string // account address when signing with an agent wallet
	vault       string
	isTestnet   bool
	clock       func() time.Time

	assetMu    sync.RWMutex
	assetIndex map[string]int
	assetInfo  map[string]AssetInfo
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithMainAddress sets the account address for info reads when the signer
// is an agent wallet acting on the account's behalf.
func WithMainAddress(addr string) ClientOption {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.mainAddress = common.HexToAddress(addr).Hex()
		}
	}
}

// WithVaultAddress signs actions on behalf of a vault.
func WithVaultAddress(addr string) ClientOption {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.vault = common.HexToAddress(addr).Hex()
		}
	}
}

// WithClock overrides the nonce time source, for tests.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClient constructs a client signing with the given private key.
func NewClient(privateKeyHex string, isTestnet bool, opts ...ClientOption) (*Client, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("hyperliquid: private key is required")
	}
	signer, err := NewPrivateKeySigner(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: create signer: %w", err)
	}
	c := &Client{
		infoURL:     mainnetInfoURL,
		exchangeURL: mainnetExchangeURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		signer:      signer,
		address:     signer.Address(),
		isTestnet:   isTestnet,
		clock:       time.Now,
		assetIndex:  make(map[string]int),
		assetInfo:   make(map[string]AssetInfo),
	}
	if isTestnet {
		c.infoURL = testnetInfoURL
		c.exchangeURL = testnetExchangeURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// infoAddress is the address used for account reads: the main account when
// configured, the signer wallet otherwise.
func (c *Client) infoAddress() string {
	if c.mainAddress != "" {
		return c.mainAddress
	}
	return c.address
}

// doInfoRequest posts to the info endpoint with bounded retry.
func (c *Client) doInfoRequest(ctx context.Context, req InfoRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode info request: %w", err)
	}
	backoff := defaultRetryBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("hyperliquid: build info request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

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
				lastErr = fmt.Errorf("hyperliquid: read info response: %w", readErr)
			case resp.StatusCode < http.StatusOK || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("hyperliquid: info http status %d: %s", resp.StatusCode, string(body))
			case result != nil:
				if err := json.Unmarshal(body, result); err != nil {
					return fmt.Errorf("hyperliquid: decode info response: %w", err)
				}
				return nil
			default:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("hyperliquid: info request failed")
}

// doExchangeRequest signs and submits one exchange action. No retry: a
// timeout after submission is ambiguous and must not be replayed.
func (c *Client) doExchangeRequest(ctx context.Context, action Action, result interface{}) error {
	nonce := c.clock().UnixMilli()
	signed, err := signAction(action, c.signer, nonce, c.vault, !c.isTestnet)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode exchange request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hyperliquid: build exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("hyperliquid: read exchange response: %w", readErr)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= 300 {
		return fmt.Errorf("hyperliquid: exchange http status %d: %s", resp.StatusCode, string(body))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("hyperliquid: decode exchange response: %w", err)
		}
	}
	return nil
}

// GetClearinghouseState fetches the authoritative account snapshot.
func (c *Client) GetClearinghouseState(ctx context.Context) (*ClearinghouseState, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, fmt.Errorf("hyperliquid: client address unavailable")
	}
	var state ClearinghouseState
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "clearinghouseState", User: addr}, &state); err != nil {
		return nil, err
	}
	if strings.TrimSpace(state.MarginSummary.AccountValue) == "" {
		return nil, fmt.Errorf("hyperliquid: clearinghouseState missing margin summary")
	}
	return &state, nil
}

// UpdateLeverage sets cross or isolated leverage for an asset.
func (c *Client) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("hyperliquid: leverage must be positive")
	}
	action := Action{
		Type:     ActionTypeUpdateLeverage,
		Asset:    &asset,
		IsCross:  &isCross,
		Leverage: leverage,
	}
	return c.doExchangeRequest(ctx, action, nil)
}

// AssetIndex resolves the exchange index for a coin, refreshing the
// directory on a miss.
func (c *Client) AssetIndex(ctx context.Context, coin string) (int, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return 0, fmt.Errorf("hyperliquid: empty coin symbol")
	}
	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return 0, err
	}
	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("hyperliquid: asset %s not found", coin)
}

// GetAssetInfo returns the cached directory entry for a coin.
func (c *Client) GetAssetInfo(ctx context.Context, coin string) (*AssetInfo, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return nil, fmt.Errorf("hyperliquid: empty coin symbol")
	}
	if info, ok := c.cachedAssetInfo(key); ok {
		return &info, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return nil, err
	}
	if info, ok := c.cachedAssetInfo(key); ok {
		return &info, nil
	}
	return nil, fmt.Errorf("hyperliquid: asset info %s not found", coin)
}

func (c *Client) cachedAssetIndex(key string) (int, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	idx, ok := c.assetIndex[key]
	return idx, ok
}

func (c *Client) cachedAssetInfo(key string) (AssetInfo, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	info, ok := c.assetInfo[key]
	return info, ok
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp MetaAndAssetCtxsResponse
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}

	index := make(map[string]int, len(resp.Universe))
	info := make(map[string]AssetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := canonicalAssetKey(entry.Name)
		if key == "" {
			continue
		}
		var assetCtx AssetCtx
		if idx < len(resp.AssetCtxs) {
			assetCtx = resp.AssetCtxs[idx]
		}
		index[key] = idx
		info[key] = AssetInfo{
			Name:        entry.Name,
			Index:       idx,
			SzDecimals:  entry.SzDecimals,
			MaxLeverage: entry.MaxLeverage,
			IsDelisted:  entry.IsDelisted,
			MarkPx:      assetCtx.MarkPx,
			MidPx:       assetCtx.MidPx,
			OraclePx:    assetCtx.OraclePx,
		}
	}

	c.assetMu.Lock()
	c.assetIndex = index
	c.assetInfo = info
	c.assetMu.Unlock()
	return nil
}

func canonicalAssetKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
