// Package exitrule decides whether an open position must be closed before
// any AI input is considered. One handler per exit mode; a min-hold gate
// suppresses non-emergency, non-time exits on fresh positions to stop
// chop-driven churn.
package exitrule

import (
	"fmt"
	"strings"
	"time"

	"arena-api/pkg/broker"
)

// Mode selects the exit strategy for a session.
type Mode string

const (
	// ModeSignal leaves exits to the AI; only the optional max-loss and
	// max-profit guardrails apply here.
	ModeSignal Mode = "signal"
	// ModeTpSl exits on fixed take-profit / stop-loss thresholds.
	ModeTpSl Mode = "tp_sl"
	// ModeTrailing exits on retracement from the best price seen.
	ModeTrailing Mode = "trailing"
	// ModeTime exits when the position exceeds its maximum hold.
	ModeTime Mode = "time"
)

// ParseMode validates a mode string from strategy configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSignal:
		return ModeSignal, nil
	case ModeTpSl:
		return ModeTpSl, nil
	case ModeTrailing:
		return ModeTrailing, nil
	case ModeTime:
		return ModeTime, nil
	}
	return "", fmt.Errorf("exitrule: invalid exit mode %q", s)
}

// Config is the resolved exit rule set for one session. Percent fields
// are margin-relative PnL percentages, matching Position.UnrealizedPnlPct.
type Config struct {
	Mode Mode

	// tp_sl mode.
	TakeProfitPct float64
	StopLossPct   float64

	// trailing mode.
	TrailingStopPct    float64
	InitialStopLossPct float64 // optional hard floor, 0 disables

	// time mode.
	MaxHoldMinutes int

	// signal mode guardrails, 0 disables.
	MaxLossPct   float64
	MaxProfitPct float64

	// Gate applied to every non-emergency, non-time exit.
	MinHoldMinutes int
}

// Decision is the evaluator's verdict for one position.
type Decision struct {
	ShouldExit  bool
	Reason      string
	IsEmergency bool
	IsTimeBased bool
	Suppressed  bool // exit wanted but inside the min-hold window

	// UpdatedPeak is set when trailing mode observed a more favorable
	// price; the caller persists it on the position row.
	UpdatedPeak *float64
}

// Evaluator applies one session's exit rules.
type Evaluator struct {
	cfg Config
	now func() time.Time
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithClock injects a deterministic time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Evaluator for a resolved config.
func New(cfg Config, opts ...Option) *Evaluator {
	e := &Evaluator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether the position must be closed at the current
// price. Trailing peak updates are reported even when no exit fires.
func (e *Evaluator) Evaluate(pos *broker.Position, price float64) Decision {
	if pos == nil || price <= 0 {
		return Decision{}
	}

	var d Decision
	switch e.cfg.Mode {
	case ModeTpSl:
		d = e.evalTpSl(pos, price)
	case ModeTrailing:
		d = e.evalTrailing(pos, price)
	case ModeTime:
		d = e.evalTime(pos)
	default:
		d = e.evalSignal(pos, price)
	}

	if d.ShouldExit && !d.IsEmergency && !d.IsTimeBased {
		minHold := time.Duration(e.cfg.MinHoldMinutes) * time.Minute
		if age := pos.AgeAt(e.now()); minHold > 0 && age < minHold {
			d.ShouldExit = false
			d.Suppressed = true
			d.Reason = fmt.Sprintf("%s (suppressed: position age %s under min hold %s)",
				d.Reason, age.Round(time.Second), minHold)
		}
	}
	return d
}

// evalSignal applies only the emergency guardrails; everything else is
// the AI's call.
func (e *Evaluator) evalSignal(pos *broker.Position, price float64) Decision {
	pnlPct := pos.UnrealizedPnlPct(price)
	if e.cfg.MaxLossPct > 0 && pnlPct <= -e.cfg.MaxLossPct {
		return Decision{
			ShouldExit:  true,
			IsEmergency: true,
			Reason:      fmt.Sprintf("max loss protection: pnl %.2f%% breached -%.2f%%", pnlPct, e.cfg.MaxLossPct),
		}
	}
	if e.cfg.MaxProfitPct > 0 && pnlPct >= e.cfg.MaxProfitPct {
		return Decision{
			ShouldExit:  true,
			IsEmergency: true,
			Reason:      fmt.Sprintf("max profit cap: pnl %.2f%% reached %.2f%%", pnlPct, e.cfg.MaxProfitPct),
		}
	}
	return Decision{}
}

func (e *Evaluator) evalTpSl(pos *broker.Position, price float64) Decision {
	pnlPct := pos.UnrealizedPnlPct(price)
	if e.cfg.TakeProfitPct > 0 && pnlPct >= e.cfg.TakeProfitPct {
		return Decision{
			ShouldExit: true,
			Reason:     fmt.Sprintf("take profit: pnl %.2f%% >= %.2f%%", pnlPct, e.cfg.TakeProfitPct),
		}
	}
	if e.cfg.StopLossPct > 0 && pnlPct <= -e.cfg.StopLossPct {
		return Decision{
			ShouldExit: true,
			Reason:     fmt.Sprintf("stop loss: pnl %.2f%% <= -%.2f%%", pnlPct, e.cfg.StopLossPct),
		}
	}
	return Decision{}
}

func (e *Evaluator) evalTrailing(pos *broker.Position, price float64) Decision {
	peak := pos.EntryPrice
	if pos.PeakPrice != nil && *pos.PeakPrice > 0 {
		peak = *pos.PeakPrice
	}

	var d Decision
	// Peak moves only in the position's favor.
	if (pos.Side == broker.SideLong && price > peak) || (pos.Side == broker.SideShort && price < peak) {
		updated := price
		d.UpdatedPeak = &updated
		peak = price
	}

	if e.cfg.InitialStopLossPct > 0 {
		if pnlPct := pos.UnrealizedPnlPct(price); pnlPct <= -e.cfg.InitialStopLossPct {
			d.ShouldExit = true
			d.IsEmergency = true
			d.Reason = fmt.Sprintf("initial stop loss: pnl %.2f%% breached -%.2f%%", pnlPct, e.cfg.InitialStopLossPct)
			return d
		}
	}

	if e.cfg.TrailingStopPct > 0 && peak > 0 {
		retracement := (peak - price) / peak * 100 * pos.Direction()
		if retracement >= e.cfg.TrailingStopPct {
			d.ShouldExit = true
			d.Reason = fmt.Sprintf("trailing stop: retraced %.2f%% from peak %.6g", retracement, peak)
		}
	}
	return d
}

// evalTime measures age from the most recent open, so an add-to-position
// restarts the clock rather than inheriting the oldest entry's age.
func (e *Evaluator) evalTime(pos *broker.Position) Decision {
	if e.cfg.MaxHoldMinutes <= 0 {
		return Decision{}
	}
	maxHold := time.Duration(e.cfg.MaxHoldMinutes) * time.Minute
	age := pos.AgeAt(e.now())
	if age >= maxHold {
		return Decision{
			ShouldExit:  true,
			IsTimeBased: true,
			Reason:      fmt.Sprintf("max hold: position age %s >= %s", age.Round(time.Second), maxHold),
		}
	}
	return Decision{}
}
