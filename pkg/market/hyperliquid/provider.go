package hyperliquid

import (
	"context"
	"fmt"
	"net/http"

	"arena-api/pkg/market"
)

// Provider adapts the info client to the market.Provider contract.
type Provider struct {
	client *Client
}

// NewProvider wraps a client.
func NewProvider(client *Client) *Provider {
	if client == nil {
		client = NewClient()
	}
	return &Provider{client: client}
}

func init() {
	market.RegisterProvider("hyperliquid", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		opts := []Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.HTTPTimeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		return NewProvider(NewClient(opts...)), nil
	})
}

// Price returns the mid price for one market.
func (p *Provider) Price(ctx context.Context, symbol string) (float64, error) {
	canonical, err := p.client.canonicalSymbolFor(ctx, symbol)
	if err != nil {
		return 0, err
	}
	mids, err := p.client.GetAllMids(ctx)
	if err != nil {
		return 0, err
	}
	px, ok := mids[canonical]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return px, nil
}

// Prices returns mid prices for every listed perp.
func (p *Provider) Prices(ctx context.Context) (map[string]float64, error) {
	return p.client.GetAllMids(ctx)
}

// Candles returns OHLCV bars, oldest first.
func (p *Provider) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	klines, err := p.client.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, len(klines))
	for i, k := range klines {
		out[i] = market.Candle{
			OpenTime:  k.OpenTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			CloseTime: k.CloseTime,
		}
	}
	return out, nil
}

// Orderbook returns a depth snapshot truncated to depth levels per side.
func (p *Provider) Orderbook(ctx context.Context, symbol string, depth int) (*market.Orderbook, error) {
	book, err := p.client.GetL2Book(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(book.Levels) < 2 {
		return nil, fmt.Errorf("hyperliquid: malformed l2Book payload for %s", symbol)
	}
	if depth <= 0 {
		depth = 10
	}
	convert := func(levels []l2BookLevel) []market.Level {
		if len(levels) > depth {
			levels = levels[:depth]
		}
		out := make([]market.Level, len(levels))
		for i, lvl := range levels {
			out[i] = market.Level{Price: lvl.Px, Size: lvl.Sz}
		}
		return out
	}
	return &market.Orderbook{
		Market: book.Coin,
		Bids:   convert(book.Levels[0]),
		Asks:   convert(book.Levels[1]),
		TimeMs: book.TimeMs,
	}, nil
}
