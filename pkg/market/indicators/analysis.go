package indicators

import (
	"fmt"
	"math"

	"arena-api/pkg/market"
)

// Snapshot is the per-interval indicator readout surfaced to the model
// and to the entry-type classifier.
type Snapshot struct {
	Interval  string  `json:"interval"`
	LastPrice float64 `json:"last_price"`
	EMA20     float64 `json:"ema20"`
	EMA50     float64 `json:"ema50"`
	MACDHist  float64 `json:"macd_hist"`
	RSI7      float64 `json:"rsi7"`
	RSI14     float64 `json:"rsi14"`
	ATR14     float64 `json:"atr14"`
	ATRPct    float64 `json:"atr_pct"` // ATR14 relative to last price, percent
}

// Compute builds a Snapshot from a candle series.
func Compute(interval string, candles []market.Candle) Snapshot {
	closes := market.Closes(candles)
	snap := Snapshot{Interval: interval}
	if len(closes) == 0 {
		return snap
	}
	snap.LastPrice = closes[len(closes)-1]
	snap.EMA20 = Last(EMA(closes, 20))
	snap.EMA50 = Last(EMA(closes, 50))
	_, _, hist := MACD(closes)
	snap.MACDHist = Last(hist)
	snap.RSI7 = Last(RSI(closes, 7))
	snap.RSI14 = Last(RSI(closes, 14))
	snap.ATR14 = Last(ATR(candles, 14))
	if snap.LastPrice > 0 && !math.IsNaN(snap.ATR14) {
		snap.ATRPct = snap.ATR14 / snap.LastPrice * 100
	}
	return snap
}

// Regime labels for Analysis.
const (
	RegimeTrending = "trending"
	RegimeRanging  = "ranging"
	RegimeVolatile = "volatile"
)

// Trend labels for Analysis.
const (
	TrendUp       = "up"
	TrendDown     = "down"
	TrendSideways = "sideways"
)

// Analysis is the market-regime summary behind the run_market_analysis
// tool. Heuristic by construction; consumers treat it as advisory.
type Analysis struct {
	Market    string   `json:"market"`
	Regime    string   `json:"regime"`
	Trend     string   `json:"trend"`
	EMASpread float64  `json:"ema_spread_pct"` // EMA20 vs EMA50, percent
	ATRPct    float64  `json:"atr_pct"`
	RSI14     float64  `json:"rsi14"`
	Snapshot  Snapshot `json:"indicators"`
	Summary   string   `json:"summary"`
}

const (
	trendSpreadPct = 0.5 // EMA20/EMA50 divergence implying a trend
	volatileATRPct = 2.5 // ATR share of price implying expansion
)

// Analyze classifies the market regime from one candle series.
func Analyze(marketName, interval string, candles []market.Candle) Analysis {
	snap := Compute(interval, candles)
	a := Analysis{Market: marketName, Snapshot: snap, RSI14: snap.RSI14, ATRPct: snap.ATRPct}

	if snap.EMA50 > 0 && !math.IsNaN(snap.EMA20) && !math.IsNaN(snap.EMA50) {
		a.EMASpread = (snap.EMA20 - snap.EMA50) / snap.EMA50 * 100
	}

	switch {
	case a.EMASpread > trendSpreadPct:
		a.Trend = TrendUp
	case a.EMASpread < -trendSpreadPct:
		a.Trend = TrendDown
	default:
		a.Trend = TrendSideways
	}

	switch {
	case a.ATRPct >= volatileATRPct:
		a.Regime = RegimeVolatile
	case a.Trend != TrendSideways:
		a.Regime = RegimeTrending
	default:
		a.Regime = RegimeRanging
	}

	a.Summary = fmt.Sprintf("%s %s: %s regime, trend %s, ema spread %.2f%%, atr %.2f%%, rsi14 %.1f",
		marketName, interval, a.Regime, a.Trend, a.EMASpread, a.ATRPct, snap.RSI14)
	return a
}
