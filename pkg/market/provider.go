package market

import "context"

// Provider exposes venue market data. Implementations must be safe for
// concurrent use; the engine shares one provider across sessions.
type Provider interface {
	// Price returns the latest mid/mark price for one market.
	Price(ctx context.Context, market string) (float64, error)
	// Prices returns current prices for every listed market.
	Prices(ctx context.Context) (map[string]float64, error)
	// Candles returns up to limit OHLCV bars, oldest first.
	Candles(ctx context.Context, market, interval string, limit int) ([]Candle, error)
	// Orderbook returns a depth snapshot truncated to depth levels per side.
	Orderbook(ctx context.Context, market string, depth int) (*Orderbook, error)
}
