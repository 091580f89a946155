package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"arena-api/pkg/broker"
	"arena-api/pkg/llm"
	"arena-api/pkg/market"
	"arena-api/pkg/market/indicators"
)

// PortfolioView exposes the session's live portfolio state to tools.
type PortfolioView interface {
	Positions(ctx context.Context) ([]broker.Position, error)
	Account(ctx context.Context) (*broker.Account, error)
}

// HistoryView exposes the session's decision and trade history to tools.
type HistoryView interface {
	RecentDecisions(ctx context.Context, market string, limit int) ([]DecisionSummary, error)
	RecentTrades(ctx context.Context, market string, limit int) ([]broker.Trade, error)
}

// NewsView returns recent headlines relevant to a market.
type NewsView interface {
	Headlines(ctx context.Context, market string, limit int) ([]string, error)
}

// DecisionSummary is the compact decision record shown to the model.
type DecisionSummary struct {
	Time       string  `json:"time"`
	Market     string  `json:"market"`
	Bias       string  `json:"bias"`
	Confidence float64 `json:"confidence"`
	Passed     bool    `json:"passed"`
	Reason     string  `json:"reason,omitempty"`
}

const (
	defaultCandleLimit  = 100
	maxCandleLimit      = 500
	defaultBookDepth    = 10
	defaultHistoryLimit = 10
)

// Toolbox executes agentic tool calls for one market's decision loop.
// Indicator tools read from the candle cache filled by get_candles, so
// the model pays for data it actually fetched.
type Toolbox struct {
	market    string
	provider  market.Provider
	portfolio PortfolioView
	history   HistoryView
	news      NewsView

	candles map[string][]market.Candle
}

// NewToolbox builds a Toolbox for one market. portfolio, history and
// news may be nil; the matching tools then return an error payload.
func NewToolbox(marketName string, provider market.Provider, portfolio PortfolioView, history HistoryView, news NewsView) *Toolbox {
	return &Toolbox{
		market:    marketName,
		provider:  provider,
		portfolio: portfolio,
		history:   history,
		news:      news,
		candles:   make(map[string][]market.Candle),
	}
}

// CachedCandles returns previously fetched candles for an interval.
func (tb *Toolbox) CachedCandles(interval string) ([]market.Candle, bool) {
	c, ok := tb.candles[cacheKey(tb.market, interval)]
	return c, ok
}

// Seed primes the candle cache, used by passive mode's pre-fetch.
func (tb *Toolbox) Seed(interval string, candles []market.Candle) {
	tb.candles[cacheKey(tb.market, interval)] = candles
}

func cacheKey(marketName, interval string) string {
	return marketName + "|" + interval
}

// Definitions lists every tool offered to the model.
func (tb *Toolbox) Definitions() []llm.Tool {
	marketProp := map[string]interface{}{
		"type":        "string",
		"description": "Market symbol, e.g. BTC",
	}
	intervalProp := map[string]interface{}{
		"type":        "string",
		"description": "Candle interval: 1m, 3m, 5m, 15m, 1h, 4h or 1d",
	}
	limitProp := map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of records to return",
	}

	return []llm.Tool{
		{
			Name:        "get_candles",
			Description: "Fetch OHLCV candles for a market and interval. Required before indicator tools for that interval.",
			Parameters: objectSchema(map[string]interface{}{
				"market":   marketProp,
				"interval": intervalProp,
				"limit":    limitProp,
			}, "market", "interval"),
		},
		{
			Name:        "get_orderbook",
			Description: "Fetch the current order book depth for a market.",
			Parameters: objectSchema(map[string]interface{}{
				"market": marketProp,
				"depth":  map[string]interface{}{"type": "integer", "description": "Levels per side"},
			}, "market"),
		},
		{
			Name:        "get_prices",
			Description: "Fetch current prices for all listed markets.",
			Parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "calculate_indicators",
			Description: "Compute EMA, MACD, RSI and ATR from candles previously fetched with get_candles for the same interval.",
			Parameters: objectSchema(map[string]interface{}{
				"market":   marketProp,
				"interval": intervalProp,
			}, "market", "interval"),
		},
		{
			Name:        "run_market_analysis",
			Description: "Classify the market regime (trending, ranging, volatile) from candles previously fetched with get_candles.",
			Parameters: objectSchema(map[string]interface{}{
				"market":   marketProp,
				"interval": intervalProp,
			}, "market", "interval"),
		},
		{
			Name:        "get_news",
			Description: "Fetch recent headlines for a market.",
			Parameters: objectSchema(map[string]interface{}{
				"market": marketProp,
				"limit":  limitProp,
			}),
		},
		{
			Name:        "get_recent_decisions",
			Description: "Fetch this session's recent decisions for the market under consideration.",
			Parameters:  objectSchema(map[string]interface{}{"limit": limitProp}),
		},
		{
			Name:        "get_recent_trades",
			Description: "Fetch this session's recent trades for the market under consideration.",
			Parameters:  objectSchema(map[string]interface{}{"limit": limitProp}),
		},
		{
			Name:        "get_positions",
			Description: "Fetch the session's open positions and account state.",
			Parameters:  objectSchema(map[string]interface{}{}),
		},
	}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Dispatch executes one tool call and returns its JSON string result.
// Tool failures come back as an error payload for the model to read,
// never as a Go error; the loop keeps its budget accounting either way.
func (tb *Toolbox) Dispatch(ctx context.Context, name, rawArgs string) string {
	var args struct {
		Market   string `json:"market"`
		Interval string `json:"interval"`
		Limit    int    `json:"limit"`
		Depth    int    `json:"depth"`
	}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errPayload(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}
	if args.Market == "" {
		args.Market = tb.market
	}

	switch name {
	case "get_candles":
		return tb.getCandles(ctx, args.Market, args.Interval, args.Limit)
	case "get_orderbook":
		return tb.getOrderbook(ctx, args.Market, args.Depth)
	case "get_prices":
		return tb.getPrices(ctx)
	case "calculate_indicators":
		return tb.calculateIndicators(args.Market, args.Interval)
	case "run_market_analysis":
		return tb.runMarketAnalysis(args.Market, args.Interval)
	case "get_news":
		return tb.getNews(ctx, args.Market, args.Limit)
	case "get_recent_decisions":
		return tb.getRecentDecisions(ctx, args.Limit)
	case "get_recent_trades":
		return tb.getRecentTrades(ctx, args.Limit)
	case "get_positions":
		return tb.getPositions(ctx)
	default:
		return errPayload(fmt.Sprintf("unknown tool %q", name))
	}
}

func (tb *Toolbox) getCandles(ctx context.Context, marketName, interval string, limit int) string {
	if interval == "" {
		return errPayload("get_candles requires an interval")
	}
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	if limit > maxCandleLimit {
		limit = maxCandleLimit
	}
	candles, err := tb.provider.Candles(ctx, marketName, interval, limit)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch candles: %v", err))
	}
	tb.candles[cacheKey(marketName, interval)] = candles
	return jsonPayload(map[string]interface{}{
		"market":   marketName,
		"interval": interval,
		"count":    len(candles),
		"candles":  candles,
	})
}

func (tb *Toolbox) getOrderbook(ctx context.Context, marketName string, depth int) string {
	if depth <= 0 {
		depth = defaultBookDepth
	}
	book, err := tb.provider.Orderbook(ctx, marketName, depth)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch orderbook: %v", err))
	}
	return jsonPayload(book)
}

func (tb *Toolbox) getPrices(ctx context.Context) string {
	prices, err := tb.provider.Prices(ctx)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch prices: %v", err))
	}
	return jsonPayload(prices)
}

func (tb *Toolbox) calculateIndicators(marketName, interval string) string {
	if interval == "" {
		return errPayload("calculate_indicators requires an interval")
	}
	candles, ok := tb.candles[cacheKey(marketName, interval)]
	if !ok {
		return errPayload(fmt.Sprintf("no cached candles for %s %s: call get_candles first", marketName, interval))
	}
	return jsonPayload(indicators.Compute(interval, candles))
}

func (tb *Toolbox) runMarketAnalysis(marketName, interval string) string {
	if interval == "" {
		return errPayload("run_market_analysis requires an interval")
	}
	candles, ok := tb.candles[cacheKey(marketName, interval)]
	if !ok {
		return errPayload(fmt.Sprintf("no cached candles for %s %s: call get_candles first", marketName, interval))
	}
	return jsonPayload(indicators.Analyze(marketName, interval, candles))
}

func (tb *Toolbox) getNews(ctx context.Context, marketName string, limit int) string {
	if tb.news == nil {
		return errPayload("news feed not configured for this session")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	headlines, err := tb.news.Headlines(ctx, marketName, limit)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch news: %v", err))
	}
	return jsonPayload(map[string]interface{}{"market": marketName, "headlines": headlines})
}

func (tb *Toolbox) getRecentDecisions(ctx context.Context, limit int) string {
	if tb.history == nil {
		return errPayload("decision history not available")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := tb.history.RecentDecisions(ctx, tb.market, limit)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch decisions: %v", err))
	}
	return jsonPayload(records)
}

func (tb *Toolbox) getRecentTrades(ctx context.Context, limit int) string {
	if tb.history == nil {
		return errPayload("trade history not available")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	trades, err := tb.history.RecentTrades(ctx, tb.market, limit)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch trades: %v", err))
	}
	return jsonPayload(trades)
}

func (tb *Toolbox) getPositions(ctx context.Context) string {
	if tb.portfolio == nil {
		return errPayload("portfolio view not available")
	}
	positions, err := tb.portfolio.Positions(ctx)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch positions: %v", err))
	}
	account, err := tb.portfolio.Account(ctx)
	if err != nil {
		return errPayload(fmt.Sprintf("fetch account: %v", err))
	}
	return jsonPayload(map[string]interface{}{
		"positions": positions,
		"account":   account,
	})
}

func errPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func jsonPayload(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return errPayload(fmt.Sprintf("encode result: %v", err))
	}
	return string(b)
}
