package risk

import (
	"strings"

	"arena-api/pkg/market/indicators"
)

// Entry type labels persisted on positions and decision records.
const (
	EntryTrend         = "trend"
	EntryBreakout      = "breakout"
	EntryMeanReversion = "mean_reversion"
)

// Indicator thresholds for classification. These mirror the regime
// detector's view of what counts as a trend or an expansion.
const (
	classifyEMASpreadPct = 0.5
	classifyATRPct       = 2.5
	classifyRSIHigh      = 70.0
	classifyRSILow       = 30.0
)

// ClassifyEntry labels an entry attempt from indicator evidence first,
// then from the model's own reasoning, defaulting to trend. Precedence:
// EMA divergence implies trend-following, an expanded ATR implies a
// breakout, RSI extremes imply mean reversion.
func ClassifyEntry(analysis *indicators.Analysis, reasoning string) string {
	if analysis != nil {
		spread := analysis.EMASpread
		if spread < 0 {
			spread = -spread
		}
		switch {
		case spread > classifyEMASpreadPct:
			return EntryTrend
		case analysis.ATRPct >= classifyATRPct:
			return EntryBreakout
		case analysis.RSI14 >= classifyRSIHigh || (analysis.RSI14 > 0 && analysis.RSI14 <= classifyRSILow):
			return EntryMeanReversion
		}
	}
	return classifyFromReasoning(reasoning)
}

func classifyFromReasoning(reasoning string) string {
	text := strings.ToLower(reasoning)
	switch {
	case containsAny(text, "breakout", "break out", "breaking out", "range break"):
		return EntryBreakout
	case containsAny(text, "mean reversion", "reversion", "oversold", "overbought", "pullback", "bounce"):
		return EntryMeanReversion
	default:
		return EntryTrend
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
