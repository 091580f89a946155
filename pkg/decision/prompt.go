package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arena-api/pkg/broker"
	"arena-api/pkg/market"
	"arena-api/pkg/market/indicators"
)

// MarketContext carries everything the passive prompt embeds and the
// agentic prompt summarises up front.
type MarketContext struct {
	Market    string
	MarkPrice float64
	Candles   map[string][]market.Candle
	Orderbook *market.Orderbook
	Snapshots []indicators.Snapshot
	Analysis  *indicators.Analysis
	News      []string
	Decisions []DecisionSummary
	Trades    []broker.Trade
	Account   *broker.Account
	Position  *broker.Position

	// Strategy bounds surfaced to the model so it requests within them.
	MaxLeverage int
	Prompt      string // optional operator-supplied strategy prompt
}

const intentContractText = `Respond with exactly one JSON object (no code fences) of the form:
{"market":"<symbol>","bias":"long|short|hold|neutral|close","confidence":<0..1>,"entry_zone":{"lower":<px>,"upper":<px>},"stop_loss":<px>,"take_profit":<px>,"risk":<0..1>,"leverage":<int>,"reasoning":"<brief>"}
Leverage must be an absolute multiplier within the stated maximum. Use "close" only to exit an open position; "hold" keeps it; "neutral" means no action.`

// systemPrompt frames the task for both acquisition modes.
func systemPrompt(ctx *MarketContext, agentic bool) string {
	var b strings.Builder
	b.WriteString("You are an automated trading analyst for the market ")
	b.WriteString(ctx.Market)
	b.WriteString(". Evaluate current conditions and produce one trading intent.\n")
	if ctx.MaxLeverage > 0 {
		fmt.Fprintf(&b, "Maximum leverage: %dx.\n", ctx.MaxLeverage)
	}
	if p := strings.TrimSpace(ctx.Prompt); p != "" {
		b.WriteString("\nStrategy guidance:\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	if agentic {
		b.WriteString("\nYou may call tools to gather market data before deciding. Fetch candles before requesting indicators. When you have enough information, stop calling tools and answer.\n")
	}
	b.WriteString("\n")
	b.WriteString(intentContractText)
	return b.String()
}

// passiveUserPrompt embeds the pre-fetched context as labelled sections.
func passiveUserPrompt(ctx *MarketContext, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\nMarket: %s\nMark price: %.6g\n",
		now.UTC().Format(time.RFC3339), ctx.Market, ctx.MarkPrice)

	b.WriteString("\n## Account\n")
	b.WriteString(formatAccount(ctx.Account))

	b.WriteString("\n## Open position\n")
	b.WriteString(formatPosition(ctx.Position, ctx.MarkPrice))

	if len(ctx.Snapshots) > 0 {
		b.WriteString("\n## Indicators\n")
		for _, snap := range ctx.Snapshots {
			b.WriteString(formatSnapshot(snap))
			b.WriteString("\n")
		}
	}

	if ctx.Analysis != nil {
		b.WriteString("\n## Market regime\n")
		b.WriteString(ctx.Analysis.Summary)
		b.WriteString("\n")
	}

	for interval, candles := range ctx.Candles {
		b.WriteString(fmt.Sprintf("\n## Candles %s (last %d)\n", interval, len(candles)))
		b.WriteString(formatCandleTail(candles, 20))
	}

	if ctx.Orderbook != nil {
		b.WriteString("\n## Orderbook\n")
		b.WriteString(formatOrderbook(ctx.Orderbook))
	}

	if len(ctx.News) > 0 {
		b.WriteString("\n## News\n")
		for _, headline := range ctx.News {
			b.WriteString("- ")
			b.WriteString(headline)
			b.WriteString("\n")
		}
	}

	if len(ctx.Decisions) > 0 {
		b.WriteString("\n## Recent decisions\n")
		b.WriteString(formatDecisions(ctx.Decisions))
	}

	if len(ctx.Trades) > 0 {
		b.WriteString("\n## Recent trades\n")
		b.WriteString(formatTrades(ctx.Trades))
	}

	b.WriteString("\nDecide now.")
	return b.String()
}

// agenticUserPrompt is deliberately thin; the model pulls what it needs.
func agenticUserPrompt(ctx *MarketContext, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\nMarket: %s\nMark price: %.6g\n",
		now.UTC().Format(time.RFC3339), ctx.Market, ctx.MarkPrice)
	b.WriteString("\n## Account\n")
	b.WriteString(formatAccount(ctx.Account))
	b.WriteString("\n## Open position\n")
	b.WriteString(formatPosition(ctx.Position, ctx.MarkPrice))
	b.WriteString("\nGather what you need, then decide.")
	return b.String()
}

func formatAccount(a *broker.Account) string {
	if a == nil {
		return "(unknown)\n"
	}
	return fmt.Sprintf("cash=%.2f equity=%.2f realized_pnl=%.2f fees=%.2f\n",
		a.Cash, a.Equity, a.RealizedPnl, a.FeesPaid)
}

func formatPosition(p *broker.Position, markPrice float64) string {
	if p == nil {
		return "(none)\n"
	}
	return fmt.Sprintf("%s %s size=%.6g entry=%.6g lev=%.0fx upnl=%.2f (%.2f%%) opened=%s\n",
		p.Market, p.Side, p.Size, p.EntryPrice, p.Leverage,
		p.UnrealizedPnl(markPrice), p.UnrealizedPnlPct(markPrice),
		p.OpenedAt.UTC().Format(time.RFC3339))
}

func formatSnapshot(s indicators.Snapshot) string {
	return fmt.Sprintf("%s: price=%.6g ema20=%.6g ema50=%.6g macd_hist=%.4g rsi7=%.1f rsi14=%.1f atr=%.4g (%.2f%%)",
		s.Interval, s.LastPrice, s.EMA20, s.EMA50, s.MACDHist, s.RSI7, s.RSI14, s.ATR14, s.ATRPct)
}

func formatCandleTail(candles []market.Candle, n int) string {
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	b, _ := json.Marshal(candles)
	return string(b) + "\n"
}

func formatOrderbook(book *market.Orderbook) string {
	lite := struct {
		Mid  float64        `json:"mid"`
		Bids []market.Level `json:"bids"`
		Asks []market.Level `json:"asks"`
	}{Mid: book.MidPrice(), Bids: book.Bids, Asks: book.Asks}
	b, _ := json.Marshal(lite)
	return string(b) + "\n"
}

func formatDecisions(records []DecisionSummary) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s %s bias=%s conf=%.2f passed=%t %s\n",
			r.Time, r.Market, r.Bias, r.Confidence, r.Passed, r.Reason)
	}
	return b.String()
}

func formatTrades(trades []broker.Trade) string {
	var b strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&b, "%s %s %s %s size=%.6g px=%.6g pnl=%.2f\n",
			t.CreatedAt.UTC().Format(time.RFC3339), t.Market, t.Action, t.Side, t.Size, t.Price, t.RealizedPnl)
	}
	return b.String()
}
