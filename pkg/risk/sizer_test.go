package risk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"arena-api/pkg/broker"
)

func sizingStrategy(maxLev int, maxPos float64) *Strategy {
	return &Strategy{
		Markets:        []string{"BTC"},
		MaxLeverage:    maxLev,
		MaxPositionUsd: maxPos,
		MinConfidence:  DefaultMinConfidence,
	}
}

func TestComputeSize(t *testing.T) {
	t.Run("cap at max position", func(t *testing.T) {
		// $10,000 equity, 2x max leverage, $5,000 position cap, no open
		// exposure, AI asks for 2x: room is $19,800 but the cap wins.
		st := sizingStrategy(2, 5000)
		res, err := ComputeSize(st, SizeInput{
			Equity:            10_000,
			Cash:              10_000,
			Confidence:        0.8,
			RequestedLeverage: 2,
			Venue:             broker.VenueHyperliquid,
		})
		require.NoError(t, err)
		require.InDelta(t, 5000, res.NotionalUSD, 1e-9)
		require.Equal(t, 2, res.Leverage)
	})

	t.Run("exposure consumes room", func(t *testing.T) {
		st := sizingStrategy(2, 50_000)
		res, err := ComputeSize(st, SizeInput{
			Equity:            10_000,
			Exposure:          15_000,
			Confidence:        0.8,
			RequestedLeverage: 2,
			Venue:             broker.VenueHyperliquid,
		})
		require.NoError(t, err)
		// 10000*2*0.99 - 15000 = 4800
		require.InDelta(t, 4800, res.NotionalUSD, 1e-9)
	})

	t.Run("leverage rounds and clamps", func(t *testing.T) {
		st := sizingStrategy(3, 100_000)
		res, err := ComputeSize(st, SizeInput{
			Equity: 10_000, Confidence: 0.8, RequestedLeverage: 7.6,
			Venue: broker.VenueHyperliquid,
		})
		require.NoError(t, err)
		require.Equal(t, 3, res.Leverage)

		res, err = ComputeSize(st, SizeInput{
			Equity: 10_000, Confidence: 0.8, RequestedLeverage: 0,
			Venue: broker.VenueHyperliquid,
		})
		require.NoError(t, err)
		require.Equal(t, 1, res.Leverage)
	})

	t.Run("spot caps to cash and forces 1x", func(t *testing.T) {
		st := sizingStrategy(5, 100_000)
		res, err := ComputeSize(st, SizeInput{
			Equity:            10_000,
			Cash:              2_000,
			Confidence:        0.8,
			RequestedLeverage: 5,
			Venue:             broker.VenueCoinbaseSpot,
		})
		require.NoError(t, err)
		require.Equal(t, 1, res.Leverage)
		require.InDelta(t, 1980, res.NotionalUSD, 1e-9) // 99% of cash
	})

	t.Run("below venue minimum rejects", func(t *testing.T) {
		st := sizingStrategy(2, 5)
		_, err := ComputeSize(st, SizeInput{
			Equity: 10_000, Cash: 10_000, Confidence: 0.8, RequestedLeverage: 1,
			Venue: broker.VenueHyperliquid,
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "below venue minimum")
	})

	t.Run("caps shrink rather than reject while above minimum", func(t *testing.T) {
		st := sizingStrategy(2, 6000)
		res, err := ComputeSize(st, SizeInput{
			Equity:            10_000,
			Exposure:          5_500,
			Confidence:        0.8,
			RequestedLeverage: 2,
			Venue:             broker.VenueHyperliquid,
		})
		require.NoError(t, err)
		// Total position cap: 6000 - 5500 = 500.
		require.InDelta(t, 500, res.NotionalUSD, 1e-9)
	})

	t.Run("no equity", func(t *testing.T) {
		st := sizingStrategy(2, 5000)
		_, err := ComputeSize(st, SizeInput{Venue: broker.VenueHyperliquid})
		require.Error(t, err)
	})
}

func TestConfidenceScaling(t *testing.T) {
	st := sizingStrategy(2, 5000)
	st.ConfidenceScaling = true
	base := SizeInput{
		Equity: 100_000, Cash: 100_000, RequestedLeverage: 1,
		Venue: broker.VenueHyperliquid,
	}

	t.Run("at minimum confidence half size", func(t *testing.T) {
		in := base
		in.Confidence = st.MinConfidence
		res, err := ComputeSize(st, in)
		require.NoError(t, err)
		require.InDelta(t, 2500, res.NotionalUSD, 1e-9)
	})

	t.Run("at full confidence full size", func(t *testing.T) {
		in := base
		in.Confidence = 1
		res, err := ComputeSize(st, in)
		require.NoError(t, err)
		require.InDelta(t, 5000, res.NotionalUSD, 1e-9)
	})

	t.Run("midpoint scales linearly", func(t *testing.T) {
		in := base
		in.Confidence = st.MinConfidence + (1-st.MinConfidence)/2
		res, err := ComputeSize(st, in)
		require.NoError(t, err)
		require.InDelta(t, 3750, res.NotionalUSD, 1e-9)
	})
}
