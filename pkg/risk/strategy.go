// Package risk holds the per-session strategy configuration and the
// ordered entry gate that every AI intent must clear before sizing and
// routing. Checks are pure functions over a snapshot of session state;
// the first failure short-circuits with a human-readable reason that is
// persisted verbatim on the decision record.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arena-api/pkg/exitrule"
)

// Defaults applied while resolving a raw strategy blob.
const (
	DefaultCadenceSeconds   = 30
	DefaultMinConfidence    = 0.65
	DefaultMinHoldMinutes   = 5
	DefaultCooldownMinutes  = 15
	DefaultMaxTradesPerHour = 2
	DefaultMaxTradesPerDay  = 10
	DefaultMaxLeverage      = 10
	DefaultMaxSlippagePct   = 0.15
	DefaultSlippageBps      = 30
	MaxSlippageBps          = 100
	DefaultFeeBps           = 5
	DefaultConfidenceStep   = 0.05
)

// MarketSelection controls how many markets one tick processes.
type MarketSelection string

const (
	SelectAllMarkets MarketSelection = "all"
	SelectRoundRobin MarketSelection = "round_robin"
)

// rawStrategy is the JSON shape stored on the session row. Pointer
// fields distinguish "absent, use default" from explicit zero values.
type rawStrategy struct {
	Cadence         *int     `json:"cadence"`
	Markets         []string `json:"markets"`
	MarketSelection string   `json:"marketSelection"`
	Agentic         bool     `json:"agentic"`
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`

	ExitRules struct {
		Mode               string  `json:"mode"`
		TakeProfitPct      float64 `json:"takeProfitPct"`
		StopLossPct        float64 `json:"stopLossPct"`
		TrailingStopPct    float64 `json:"trailingStopPct"`
		InitialStopLossPct float64 `json:"initialStopLossPct"`
		MaxHoldMinutes     int     `json:"maxHoldMinutes"`
		MaxLossPct         float64 `json:"maxLossPct"`
		MaxProfitPct       float64 `json:"maxProfitPct"`
	} `json:"exitRules"`

	TradeControl struct {
		MinHoldMinutes            *int  `json:"minHoldMinutes"`
		CooldownMinutes           *int  `json:"cooldownMinutes"`
		MaxTradesPerHour          *int  `json:"maxTradesPerHour"`
		MaxTradesPerDay           *int  `json:"maxTradesPerDay"`
		AllowReentrySameDirection bool  `json:"allowReentrySameDirection"`
		ConfidenceScaling         *bool `json:"confidenceScaling"`
	} `json:"tradeControl"`

	// confidenceControl.minConfidence wins over the legacy guardrails
	// field when both are present.
	ConfidenceControl *struct {
		MinConfidence *float64 `json:"minConfidence"`
	} `json:"confidenceControl"`

	Guardrails struct {
		MinConfidence *float64 `json:"minConfidence"`
		AllowLong     *bool    `json:"allowLong"`
		AllowShort    *bool    `json:"allowShort"`
	} `json:"guardrails"`

	EntryTypes struct {
		Trend         *bool `json:"trend"`
		Breakout      *bool `json:"breakout"`
		MeanReversion *bool `json:"meanReversion"`
	} `json:"entryTypes"`

	Sizing struct {
		MaxLeverage    *int     `json:"maxLeverage"`
		MaxPositionUsd *float64 `json:"maxPositionUsd"`
	} `json:"sizing"`

	Confirmation struct {
		MinSignals          int      `json:"minSignals"`
		ConfidencePerSignal *float64 `json:"confidencePerSignal"`
		VolatilityMin       float64  `json:"volatilityMin"`
		VolatilityMax       float64  `json:"volatilityMax"`
	} `json:"confirmation"`

	Slippage struct {
		MaxSlippagePct *float64 `json:"maxSlippagePct"`
		ToleranceBps   *float64 `json:"toleranceBps"`
		FeeBps         *float64 `json:"feeBps"`
	} `json:"slippage"`
}

// Strategy is the fully resolved configuration a tick runs against.
// Defaulting happens exactly once, in ResolveStrategy; check sites never
// re-derive fallbacks.
type Strategy struct {
	CadenceSeconds  int
	Markets         []string
	MarketSelection MarketSelection
	Agentic         bool
	Model           string
	Prompt          string

	ExitRules exitrule.Config

	MinHoldMinutes            int
	CooldownMinutes           int
	MaxTradesPerHour          int
	MaxTradesPerDay           int
	AllowReentrySameDirection bool
	ConfidenceScaling         bool

	MinConfidence float64
	AllowLong     bool
	AllowShort    bool

	TrendEnabled         bool
	BreakoutEnabled      bool
	MeanReversionEnabled bool

	MaxLeverage    int
	MaxPositionUsd float64

	ConfirmMinSignals   int
	ConfidencePerSignal float64
	VolatilityMin       float64
	VolatilityMax       float64

	MaxSlippagePct float64
	ToleranceBps   float64
	FeeBps         float64
}

// ResolveStrategy parses and defaults a strategy blob. Configuration
// errors here abort the tick before any market work starts.
func ResolveStrategy(blob []byte) (*Strategy, error) {
	var raw rawStrategy
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &raw); err != nil {
			return nil, fmt.Errorf("risk: decode strategy config: %w", err)
		}
	}

	s := &Strategy{
		Markets:         normaliseMarkets(raw.Markets),
		MarketSelection: SelectAllMarkets,
		Agentic:         raw.Agentic,
		Model:           strings.TrimSpace(raw.Model),
		Prompt:          raw.Prompt,

		CadenceSeconds: DefaultCadenceSeconds,

		MinHoldMinutes:            intOr(raw.TradeControl.MinHoldMinutes, DefaultMinHoldMinutes),
		CooldownMinutes:           intOr(raw.TradeControl.CooldownMinutes, DefaultCooldownMinutes),
		MaxTradesPerHour:          intOr(raw.TradeControl.MaxTradesPerHour, DefaultMaxTradesPerHour),
		MaxTradesPerDay:           intOr(raw.TradeControl.MaxTradesPerDay, DefaultMaxTradesPerDay),
		AllowReentrySameDirection: raw.TradeControl.AllowReentrySameDirection,
		ConfidenceScaling:         boolOr(raw.TradeControl.ConfidenceScaling, false),

		MinConfidence: DefaultMinConfidence,
		AllowLong:     boolOr(raw.Guardrails.AllowLong, true),
		AllowShort:    boolOr(raw.Guardrails.AllowShort, true),

		TrendEnabled:         boolOr(raw.EntryTypes.Trend, true),
		BreakoutEnabled:      boolOr(raw.EntryTypes.Breakout, true),
		MeanReversionEnabled: boolOr(raw.EntryTypes.MeanReversion, true),

		MaxLeverage:    intOr(raw.Sizing.MaxLeverage, DefaultMaxLeverage),
		MaxPositionUsd: floatOr(raw.Sizing.MaxPositionUsd, 0),

		ConfirmMinSignals:   raw.Confirmation.MinSignals,
		ConfidencePerSignal: floatOr(raw.Confirmation.ConfidencePerSignal, DefaultConfidenceStep),
		VolatilityMin:       raw.Confirmation.VolatilityMin,
		VolatilityMax:       raw.Confirmation.VolatilityMax,

		MaxSlippagePct: floatOr(raw.Slippage.MaxSlippagePct, DefaultMaxSlippagePct),
		ToleranceBps:   floatOr(raw.Slippage.ToleranceBps, DefaultSlippageBps),
		FeeBps:         floatOr(raw.Slippage.FeeBps, DefaultFeeBps),
	}

	if raw.Cadence != nil {
		if *raw.Cadence <= 0 {
			return nil, errors.New("risk: cadence must be positive seconds")
		}
		s.CadenceSeconds = *raw.Cadence
	}

	if sel := strings.ToLower(strings.TrimSpace(raw.MarketSelection)); sel != "" {
		switch MarketSelection(sel) {
		case SelectAllMarkets, SelectRoundRobin:
			s.MarketSelection = MarketSelection(sel)
		default:
			return nil, fmt.Errorf("risk: invalid market selection %q", raw.MarketSelection)
		}
	}

	// confidenceControl takes precedence over the legacy guardrails field.
	switch {
	case raw.ConfidenceControl != nil && raw.ConfidenceControl.MinConfidence != nil:
		s.MinConfidence = *raw.ConfidenceControl.MinConfidence
	case raw.Guardrails.MinConfidence != nil:
		s.MinConfidence = *raw.Guardrails.MinConfidence
	}

	mode := raw.ExitRules.Mode
	if strings.TrimSpace(mode) == "" {
		mode = string(exitrule.ModeSignal)
	}
	exitMode, err := exitrule.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	s.ExitRules = exitrule.Config{
		Mode:               exitMode,
		TakeProfitPct:      raw.ExitRules.TakeProfitPct,
		StopLossPct:        raw.ExitRules.StopLossPct,
		TrailingStopPct:    raw.ExitRules.TrailingStopPct,
		InitialStopLossPct: raw.ExitRules.InitialStopLossPct,
		MaxHoldMinutes:     raw.ExitRules.MaxHoldMinutes,
		MaxLossPct:         raw.ExitRules.MaxLossPct,
		MaxProfitPct:       raw.ExitRules.MaxProfitPct,
	}
	s.ExitRules.MinHoldMinutes = s.MinHoldMinutes

	if s.ToleranceBps > MaxSlippageBps {
		s.ToleranceBps = MaxSlippageBps
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strategy) validate() error {
	if len(s.Markets) == 0 {
		return errors.New("risk: strategy has no markets configured")
	}
	if s.MaxLeverage < 1 {
		return errors.New("risk: maxLeverage must be at least 1")
	}
	if s.MaxPositionUsd <= 0 {
		return errors.New("risk: maxPositionUsd must be positive")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return errors.New("risk: minConfidence must be within [0,1]")
	}
	if s.MaxTradesPerHour <= 0 || s.MaxTradesPerDay <= 0 {
		return errors.New("risk: trade frequency caps must be positive")
	}
	if s.VolatilityMax > 0 && s.VolatilityMin > s.VolatilityMax {
		return errors.New("risk: volatilityMin exceeds volatilityMax")
	}
	return nil
}

func normaliseMarkets(markets []string) []string {
	out := make([]string, 0, len(markets))
	seen := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
