package risk

import (
	"fmt"
	"time"

	"arena-api/pkg/broker"
	"arena-api/pkg/decision"
	"arena-api/pkg/market/indicators"
)

// Gate stages in evaluation order. The stage of the first failing check
// is recorded on the decision row alongside its reason.
const (
	StageIntent       = "intent"
	StageStacking     = "stacking"
	StageConfidence   = "confidence"
	StageGuardrails   = "guardrails"
	StageEntryType    = "entry_type"
	StageFrequency    = "frequency"
	StageSizing       = "sizing"
	StageConfirmation = "confirmation"
	StageSlippage     = "slippage"
	StageApproved     = "approved"
)

// estimatedSlippagePct is the flat pre-trade slippage estimate checked
// against the strategy ceiling before any order is built.
const estimatedSlippagePct = 0.05

// Input is the session snapshot one entry attempt is judged against.
// All counters are computed by the caller from persisted trades so the
// checks themselves stay pure.
type Input struct {
	Intent   *decision.Intent
	Position *broker.Position     // open position in this market, if any
	Analysis *indicators.Analysis // advisory regime readout, may be nil
	Venue    broker.Venue

	Equity   float64
	Cash     float64
	Exposure float64 // summed entry notional across all open positions

	TradesLastHour int
	TradesLastDay  int
	LastFillAt     time.Time // most recent fill in this market, zero if none

	SignalCount int // confirming signals available this tick
	Now         time.Time
}

// Assessment is the gate verdict. A failed assessment names the stage
// that rejected the intent; an approved one carries the sized order.
type Assessment struct {
	Passed      bool
	Stage       string
	Reason      string
	EntryType   string
	NotionalUSD float64
	Leverage    int
}

type check struct {
	stage string
	fn    func(st *Strategy, in *Input, out *Assessment) (bool, string)
}

// entryChecks run in order and short-circuit on the first rejection.
var entryChecks = []check{
	{StageIntent, checkIntent},
	{StageStacking, checkStacking},
	{StageConfidence, checkConfidence},
	{StageGuardrails, checkGuardrails},
	{StageEntryType, checkEntryType},
	{StageFrequency, checkFrequency},
	{StageSizing, checkSizing},
	{StageConfirmation, checkConfirmation},
	{StageSlippage, checkSlippage},
}

// Evaluate runs the full entry gate for one intent.
func Evaluate(st *Strategy, in *Input) Assessment {
	out := Assessment{Stage: StageApproved}
	for _, c := range entryChecks {
		ok, reason := c.fn(st, in, &out)
		if !ok {
			out.Passed = false
			out.Stage = c.stage
			out.Reason = reason
			return out
		}
	}
	out.Passed = true
	out.Reason = "approved"
	return out
}

func checkIntent(_ *Strategy, in *Input, _ *Assessment) (bool, string) {
	if in.Intent == nil {
		return false, "no intent produced"
	}
	if !in.Intent.IsEntry() {
		return false, fmt.Sprintf("no entry: bias %s", in.Intent.Bias)
	}
	return true, ""
}

func checkStacking(st *Strategy, in *Input, _ *Assessment) (bool, string) {
	if in.Position == nil {
		return true, ""
	}
	side := intentSide(in.Intent)
	if side != in.Position.Side {
		return false, fmt.Sprintf("would flip position: %s open, %s intent", in.Position.Side, side)
	}
	if !st.AllowReentrySameDirection {
		return false, "stacking disabled for same-direction re-entry"
	}
	return true, ""
}

func checkConfidence(st *Strategy, in *Input, _ *Assessment) (bool, string) {
	if in.Intent.Confidence < st.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below minimum %.2f", in.Intent.Confidence, st.MinConfidence)
	}
	return true, ""
}

func checkGuardrails(st *Strategy, in *Input, _ *Assessment) (bool, string) {
	side := intentSide(in.Intent)
	if side == broker.SideLong && !st.AllowLong {
		return false, "long entries disabled"
	}
	if side == broker.SideShort && !st.AllowShort {
		return false, "short entries disabled"
	}
	return true, ""
}

func checkEntryType(st *Strategy, in *Input, out *Assessment) (bool, string) {
	if !st.TrendEnabled && !st.BreakoutEnabled && !st.MeanReversionEnabled {
		return false, "all entry types disabled"
	}
	entryType := ClassifyEntry(in.Analysis, in.Intent.Reasoning)
	out.EntryType = entryType
	enabled := map[string]bool{
		EntryTrend:         st.TrendEnabled,
		EntryBreakout:      st.BreakoutEnabled,
		EntryMeanReversion: st.MeanReversionEnabled,
	}
	if !enabled[entryType] {
		return false, fmt.Sprintf("%s entries disabled", entryType)
	}
	return true, ""
}

func checkFrequency(st *Strategy, in *Input, _ *Assessment) (bool, string) {
	if in.TradesLastHour >= st.MaxTradesPerHour {
		return false, fmt.Sprintf("trade frequency: hourly cap reached (%d/%d)", in.TradesLastHour, st.MaxTradesPerHour)
	}
	if in.TradesLastDay >= st.MaxTradesPerDay {
		return false, fmt.Sprintf("trade frequency: daily cap reached (%d/%d)", in.TradesLastDay, st.MaxTradesPerDay)
	}
	if cooldown := time.Duration(st.CooldownMinutes) * time.Minute; cooldown > 0 && !in.LastFillAt.IsZero() {
		if since := in.Now.Sub(in.LastFillAt); since < cooldown {
			return false, fmt.Sprintf("market cooldown: %s remaining", (cooldown - since).Round(time.Second))
		}
	}
	// Adds to an existing position respect min hold like exits do.
	if in.Position != nil {
		minHold := time.Duration(st.MinHoldMinutes) * time.Minute
		if age := in.Position.AgeAt(in.Now); age < minHold {
			return false, fmt.Sprintf("add blocked: position age %s under min hold %dm",
				age.Round(time.Second), st.MinHoldMinutes)
		}
	}
	return true, ""
}

func checkSizing(st *Strategy, in *Input, out *Assessment) (bool, string) {
	result, err := ComputeSize(st, SizeInput{
		Equity:            in.Equity,
		Cash:              in.Cash,
		Exposure:          in.Exposure,
		Confidence:        in.Intent.Confidence,
		RequestedLeverage: in.Intent.Leverage,
		Venue:             in.Venue,
	})
	if err != nil {
		return false, err.Error()
	}
	out.NotionalUSD = result.NotionalUSD
	out.Leverage = result.Leverage
	return true, ""
}

func checkConfirmation(st *Strategy, in *Input, _ *Assessment) (bool, string) {
	if st.ConfirmMinSignals > 0 && in.SignalCount < st.ConfirmMinSignals {
		missing := st.ConfirmMinSignals - in.SignalCount
		required := st.MinConfidence + float64(missing)*st.ConfidencePerSignal
		if required > 1 {
			required = 1
		}
		if in.Intent.Confidence < required {
			return false, fmt.Sprintf("confirmation: %d/%d signals, confidence %.2f below required %.2f",
				in.SignalCount, st.ConfirmMinSignals, in.Intent.Confidence, required)
		}
	}
	// Volatility band only applies when a regime readout is available.
	if in.Analysis != nil {
		atr := in.Analysis.ATRPct
		if st.VolatilityMin > 0 && atr < st.VolatilityMin {
			return false, fmt.Sprintf("volatility %.2f%% below minimum %.2f%%", atr, st.VolatilityMin)
		}
		if st.VolatilityMax > 0 && atr > st.VolatilityMax {
			return false, fmt.Sprintf("volatility %.2f%% above maximum %.2f%%", atr, st.VolatilityMax)
		}
	}
	return true, ""
}

func checkSlippage(st *Strategy, _ *Input, _ *Assessment) (bool, string) {
	if estimatedSlippagePct > st.MaxSlippagePct {
		return false, fmt.Sprintf("estimated slippage %.2f%% exceeds maximum %.2f%%",
			estimatedSlippagePct, st.MaxSlippagePct)
	}
	return true, ""
}

func intentSide(intent *decision.Intent) broker.Side {
	if intent.Bias == decision.BiasShort {
		return broker.SideShort
	}
	return broker.SideLong
}
