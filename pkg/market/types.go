// Package market defines the exchange-agnostic market data surface the
// engine consumes: prices, candles and orderbook depth, plus the provider
// registry that binds venue implementations to configuration.
package market

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64 // milliseconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64 // milliseconds
}

// Closes extracts the close series, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Level is one orderbook price level.
type Level struct {
	Price float64
	Size  float64
}

// Orderbook is a depth snapshot. Bids descend, asks ascend.
type Orderbook struct {
	Market string
	Bids   []Level
	Asks   []Level
	TimeMs int64
}

// MidPrice returns the bid/ask midpoint, or 0 when either side is empty.
func (o *Orderbook) MidPrice() float64 {
	if o == nil || len(o.Bids) == 0 || len(o.Asks) == 0 {
		return 0
	}
	return (o.Bids[0].Price + o.Asks[0].Price) / 2
}
