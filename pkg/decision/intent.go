// Package decision obtains a trading intent for one market from an LLM,
// either as a single prompted call or as a bounded tool-calling loop.
package decision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Bias is the model's directional stance for a market.
type Bias string

const (
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
	BiasHold    Bias = "hold"
	BiasNeutral Bias = "neutral"
	BiasClose   Bias = "close"
)

// ParseBias validates a bias string from model output.
func ParseBias(s string) (Bias, error) {
	switch Bias(strings.ToLower(strings.TrimSpace(s))) {
	case BiasLong:
		return BiasLong, nil
	case BiasShort:
		return BiasShort, nil
	case BiasHold:
		return BiasHold, nil
	case BiasNeutral:
		return BiasNeutral, nil
	case BiasClose:
		return BiasClose, nil
	}
	return "", fmt.Errorf("decision: invalid bias %q", s)
}

// EntryZone bounds the price range the model considers acceptable for entry.
type EntryZone struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Intent is the model's structured recommendation for one market.
type Intent struct {
	Market     string    `json:"market"`
	Bias       Bias      `json:"bias"`
	Confidence float64   `json:"confidence"`
	EntryZone  EntryZone `json:"entry_zone"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Risk       float64   `json:"risk"`
	Leverage   float64   `json:"leverage"`
	Reasoning  string    `json:"reasoning"`
}

// IsEntry reports whether the intent proposes opening a position.
func (i *Intent) IsEntry() bool {
	return i.Bias == BiasLong || i.Bias == BiasShort
}

// NeutralIntent is the fallback when the model cannot produce a usable
// answer; it never trades.
func NeutralIntent(market, reason string) *Intent {
	return &Intent{
		Market:    market,
		Bias:      BiasNeutral,
		Leverage:  1,
		Reasoning: reason,
	}
}

// intentContract mirrors the raw JSON shape before validation.
type intentContract struct {
	Market     string    `json:"market"`
	Bias       string    `json:"bias"`
	Confidence *float64  `json:"confidence"`
	EntryZone  EntryZone `json:"entry_zone"`
	StopLoss   *float64  `json:"stop_loss"`
	TakeProfit *float64  `json:"take_profit"`
	Risk       *float64  `json:"risk"`
	Leverage   *float64  `json:"leverage"`
	Reasoning  string    `json:"reasoning"`
}

// ParseIntent extracts the first top-level JSON object from raw model
// text, tolerating surrounding prose, and validates it. Missing numeric
// fields default to zero (leverage to 1) and bounded fields are clamped;
// an invalid bias is a hard failure.
func ParseIntent(raw string) (*Intent, error) {
	block, ok := firstJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("decision: no JSON object found in response")
	}

	var contract intentContract
	if err := json.Unmarshal([]byte(block), &contract); err != nil {
		return nil, fmt.Errorf("decision: decode intent: %w", err)
	}

	bias, err := ParseBias(contract.Bias)
	if err != nil {
		return nil, err
	}

	intent := &Intent{
		Market:     strings.TrimSpace(contract.Market),
		Bias:       bias,
		Confidence: clamp01(deref(contract.Confidence)),
		EntryZone:  contract.EntryZone,
		StopLoss:   nonNegative(deref(contract.StopLoss)),
		TakeProfit: nonNegative(deref(contract.TakeProfit)),
		Risk:       clamp01(deref(contract.Risk)),
		Leverage:   deref(contract.Leverage),
		Reasoning:  strings.TrimSpace(contract.Reasoning),
	}
	if intent.Leverage < 1 {
		intent.Leverage = 1
	}
	return intent, nil
}

// firstJSONObject scans for the first balanced top-level {...} block,
// ignoring braces inside JSON strings.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
