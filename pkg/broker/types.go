package broker

// Core trading domain types shared across the engine, risk gate and venue
// executors. Positions and trades are stored per execution mode; the types
// here stay venue-agnostic so new execution venues slot in behind the
// Executor interface without touching callers.

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which universe a session trades in. Virtual and arena
// sessions fill against the simulator; live sessions route to a real venue.
type Mode string

const (
	ModeVirtual Mode = "virtual"
	ModeLive    Mode = "live"
	ModeArena   Mode = "arena"
)

// ParseMode validates a mode string from a session row or API payload.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeVirtual:
		return ModeVirtual, nil
	case ModeLive:
		return ModeLive, nil
	case ModeArena:
		return ModeArena, nil
	}
	return "", fmt.Errorf("broker: invalid mode %q", s)
}

// Simulated reports whether fills are produced by the simulator.
func (m Mode) Simulated() bool {
	return m != ModeLive
}

// Venue identifies an execution/market-data source.
type Venue string

const (
	VenueHyperliquid  Venue = "hyperliquid"
	VenueCoinbaseSpot Venue = "coinbase_spot"
	VenueCoinbaseIntx Venue = "coinbase_intx"
)

// VenueKind groups venues by contract type.
type VenueKind string

const (
	VenueKindPerp VenueKind = "perp"
	VenueKindSpot VenueKind = "spot"
	VenueKindIntx VenueKind = "intx"
)

// Kind maps a venue to its contract type. Unknown venues are treated as
// perpetuals, the conservative choice for minimum sizes.
func (v Venue) Kind() VenueKind {
	switch v {
	case VenueCoinbaseSpot:
		return VenueKindSpot
	case VenueCoinbaseIntx:
		return VenueKindIntx
	default:
		return VenueKindPerp
	}
}

// MinOrderUSD returns the venue's minimum order notional.
func (v Venue) MinOrderUSD() float64 {
	switch v.Kind() {
	case VenueKindSpot:
		return 1
	default:
		return 10
	}
}

// SpotOnly reports whether the venue trades without margin. Spot buys are
// additionally capped to available cash by the sizer.
func (v Venue) SpotOnly() bool {
	return v.Kind() == VenueKindSpot
}

// Side is a position direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// TradeAction classifies what a fill did to the position.
type TradeAction string

const (
	ActionOpen   TradeAction = "open"
	ActionClose  TradeAction = "close"
	ActionReduce TradeAction = "reduce"
	ActionFlip   TradeAction = "flip"
)

// Position is the single open row per (session, market). Re-entries in the
// same direction re-average the entry price; opposite-direction entries are
// rejected upstream, never netted here.
type Position struct {
	ID         int64
	SessionID  string
	Market     string
	Side       Side
	Size       float64 // base units, always > 0
	EntryPrice float64
	Leverage   float64
	PeakPrice  *float64 // trailing-stop state, most favorable price seen
	StopLoss   *float64
	TakeProfit *float64
	EntryType  string // trend | breakout | mean_reversion
	OpenedAt   time.Time
	UpdatedAt  time.Time
}

// Direction returns +1 for long, -1 for short.
func (p *Position) Direction() float64 {
	if p.Side == SideShort {
		return -1
	}
	return 1
}

// Notional is the USD value at entry.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Size
}

// UnrealizedPnl is the mark-to-market profit at the given price.
func (p *Position) UnrealizedPnl(mark float64) float64 {
	return (mark - p.EntryPrice) * p.Size * p.Direction()
}

// UnrealizedPnlPct expresses unrealized PnL as a percent of the margin
// posted for the position, so exit-rule thresholds see leverage-amplified
// moves the way the account does.
func (p *Position) UnrealizedPnlPct(mark float64) float64 {
	if p.EntryPrice <= 0 || p.Size <= 0 {
		return 0
	}
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	margin := p.EntryPrice * p.Size / lev
	if margin <= 0 {
		return 0
	}
	return p.UnrealizedPnl(mark) / margin * 100
}

// AgeAt returns how long the position has been open.
func (p *Position) AgeAt(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// Trade is an immutable fill record, appended by the router and never
// mutated afterwards.
type Trade struct {
	ID          int64
	SessionID   string
	Market      string
	Action      TradeAction
	Side        Side // direction of the resulting or closed exposure
	Size        float64
	Price       float64
	Notional    float64
	Fee         float64
	RealizedPnl float64
	Leverage    float64
	OrderID     string // venue order id, empty for simulated fills
	CreatedAt   time.Time
}

// Account holds per-session balances. For simulated modes equity is
// recomputed as cash plus unrealized PnL; for live mode the venue-reported
// value is ground truth.
type Account struct {
	SessionID      string
	Cash           float64
	StartingEquity float64
	Equity         float64
	RealizedPnl    float64
	FeesPaid       float64
	UpdatedAt      time.Time
}

// OrderRequest describes one approved order on its way to a venue.
type OrderRequest struct {
	SessionID   string
	Mode        Mode
	Venue       Venue
	Market      string
	Side        Side    // direction of the exposure being built or closed
	NotionalUSD float64 // computed from current price, not entry price
	MarkPrice   float64 // reference price used for simulated fills
	Leverage    float64
	SlippageBps float64
	FeeBps      float64

	// Exit handling: IsExit closes exposure; ExitSize carries the exact
	// base size so derivatives venues close completely without dust.
	IsExit   bool
	ExitSize float64
}

// Fill is the normalized execution report from any venue.
type Fill struct {
	OrderID string
	Price   float64
	Size    float64 // base units actually filled
}

// OrderResult is the router's outcome: either a recorded trade or a
// human-readable error, never both.
type OrderResult struct {
	Success bool
	Error   string
	Trade   *Trade
}
