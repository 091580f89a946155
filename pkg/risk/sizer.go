package risk

import (
	"fmt"
	"math"

	"arena-api/pkg/broker"
)

// marginBuffer keeps 1% of headroom against the leverage ceiling so a
// fill at slight slippage cannot immediately breach margin.
const marginBuffer = 0.99

// spotCashBuffer caps spot buys below full cash so fees always clear.
const spotCashBuffer = 0.99

// confidenceFloorScale is the sizing multiplier at exactly minConfidence
// when confidence scaling is on; it rises linearly to 1.0 at confidence 1.
const confidenceFloorScale = 0.5

// SizeInput is the account snapshot the sizer works from. Exposure is the
// summed entry notional of every open position in the session, not just
// the target market.
type SizeInput struct {
	Equity            float64
	Cash              float64
	Exposure          float64
	Confidence        float64
	RequestedLeverage float64
	Venue             broker.Venue
}

// SizeResult is an approved order size.
type SizeResult struct {
	NotionalUSD float64
	Leverage    int
}

// ComputeSize turns an approved intent into an order notional. Orders
// below the venue minimum are rejected outright, never resized upward.
func ComputeSize(st *Strategy, in SizeInput) (SizeResult, error) {
	if in.Equity <= 0 {
		return SizeResult{}, fmt.Errorf("sizing: no equity available")
	}

	lev := int(math.Round(in.RequestedLeverage))
	if lev < 1 {
		lev = 1
	}
	if lev > st.MaxLeverage {
		lev = st.MaxLeverage
	}
	if in.Venue.SpotOnly() {
		lev = 1
	}

	hardCeiling := in.Equity * float64(st.MaxLeverage) * marginBuffer
	aiCeiling := in.Equity * float64(lev) * marginBuffer
	room := math.Max(0, math.Min(aiCeiling, hardCeiling)-in.Exposure)
	notional := math.Min(st.MaxPositionUsd, room)

	if st.ConfidenceScaling {
		notional *= confidenceScale(st.MinConfidence, in.Confidence)
	}

	if in.Venue.SpotOnly() {
		notional = math.Min(notional, spotCashBuffer*in.Cash)
	}

	minOrder := in.Venue.MinOrderUSD()
	if notional < minOrder {
		return SizeResult{}, fmt.Errorf("sizing: notional $%.2f below venue minimum $%.2f", notional, minOrder)
	}

	// Post-sizing caps: total position value and projected account
	// leverage both shrink the order, and shrinking below the venue
	// minimum rejects it.
	if in.Exposure+notional > st.MaxPositionUsd {
		notional = st.MaxPositionUsd - in.Exposure
	}
	if projected := in.Exposure + notional; projected > hardCeiling {
		notional = hardCeiling - in.Exposure
	}
	if notional < minOrder {
		return SizeResult{}, fmt.Errorf("sizing: notional $%.2f after position caps below venue minimum $%.2f", notional, minOrder)
	}

	return SizeResult{NotionalUSD: notional, Leverage: lev}, nil
}

// confidenceScale maps confidence in [minConfidence, 1] onto a
// [0.5, 1.0] multiplier, clamped at the edges.
func confidenceScale(minConfidence, confidence float64) float64 {
	if minConfidence >= 1 {
		return 1
	}
	frac := (confidence - minConfidence) / (1 - minConfidence)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return confidenceFloorScale + (1-confidenceFloorScale)*frac
}
