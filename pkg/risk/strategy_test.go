package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"arena-api/pkg/exitrule"
)

const minimalStrategy = `{"markets":["btc"],"sizing":{"maxPositionUsd":5000}}`

func TestResolveStrategyDefaults(t *testing.T) {
	s, err := ResolveStrategy([]byte(minimalStrategy))
	require.NoError(t, err)

	require.Equal(t, []string{"BTC"}, s.Markets)
	require.Equal(t, SelectAllMarkets, s.MarketSelection)
	require.Equal(t, DefaultCadenceSeconds, s.CadenceSeconds)
	require.Equal(t, exitrule.ModeSignal, s.ExitRules.Mode)
	require.Equal(t, DefaultMinHoldMinutes, s.MinHoldMinutes)
	require.Equal(t, DefaultMinHoldMinutes, s.ExitRules.MinHoldMinutes)
	require.Equal(t, DefaultCooldownMinutes, s.CooldownMinutes)
	require.Equal(t, DefaultMaxTradesPerHour, s.MaxTradesPerHour)
	require.Equal(t, DefaultMaxTradesPerDay, s.MaxTradesPerDay)
	require.InDelta(t, DefaultMinConfidence, s.MinConfidence, 1e-9)
	require.True(t, s.AllowLong)
	require.True(t, s.AllowShort)
	require.True(t, s.TrendEnabled && s.BreakoutEnabled && s.MeanReversionEnabled)
	require.Equal(t, DefaultMaxLeverage, s.MaxLeverage)
	require.InDelta(t, DefaultMaxSlippagePct, s.MaxSlippagePct, 1e-9)
	require.InDelta(t, float64(DefaultSlippageBps), s.ToleranceBps, 1e-9)
	require.InDelta(t, float64(DefaultFeeBps), s.FeeBps, 1e-9)
	require.False(t, s.AllowReentrySameDirection)
	require.False(t, s.ConfidenceScaling)
}

func TestResolveStrategyCadence(t *testing.T) {
	t.Run("explicit cadence", func(t *testing.T) {
		s, err := ResolveStrategy([]byte(`{"cadence":60,"markets":["BTC"],"sizing":{"maxPositionUsd":1000}}`))
		require.NoError(t, err)
		require.Equal(t, 60, s.CadenceSeconds)
	})

	t.Run("non-positive cadence is a config error", func(t *testing.T) {
		for _, c := range []int{0, -5} {
			_, err := ResolveStrategy([]byte(fmt.Sprintf(`{"cadence":%d,"markets":["BTC"],"sizing":{"maxPositionUsd":1000}}`, c)))
			require.Error(t, err, c)
		}
	})
}

func TestResolveStrategyConfidencePrecedence(t *testing.T) {
	t.Run("confidenceControl wins over guardrails", func(t *testing.T) {
		blob := `{"markets":["BTC"],"sizing":{"maxPositionUsd":1000},
			"confidenceControl":{"minConfidence":0.8},
			"guardrails":{"minConfidence":0.5}}`
		s, err := ResolveStrategy([]byte(blob))
		require.NoError(t, err)
		require.InDelta(t, 0.8, s.MinConfidence, 1e-9)
	})

	t.Run("legacy guardrails field applies alone", func(t *testing.T) {
		blob := `{"markets":["BTC"],"sizing":{"maxPositionUsd":1000},
			"guardrails":{"minConfidence":0.5}}`
		s, err := ResolveStrategy([]byte(blob))
		require.NoError(t, err)
		require.InDelta(t, 0.5, s.MinConfidence, 1e-9)
	})
}

func TestResolveStrategyValidation(t *testing.T) {
	cases := map[string]string{
		"no markets":         `{"sizing":{"maxPositionUsd":1000}}`,
		"missing risk limit": `{"markets":["BTC"]}`,
		"bad leverage":       `{"markets":["BTC"],"sizing":{"maxLeverage":0,"maxPositionUsd":1000}}`,
		"bad selection":      `{"markets":["BTC"],"marketSelection":"lottery","sizing":{"maxPositionUsd":1000}}`,
		"bad exit mode":      `{"markets":["BTC"],"exitRules":{"mode":"astrology"},"sizing":{"maxPositionUsd":1000}}`,
		"inverted vol band":  `{"markets":["BTC"],"confirmation":{"volatilityMin":5,"volatilityMax":2},"sizing":{"maxPositionUsd":1000}}`,
		"not json":           `{markets}`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveStrategy([]byte(blob))
			require.Error(t, err)
		})
	}
}

func TestResolveStrategySlippageToleranceCap(t *testing.T) {
	blob := `{"markets":["BTC"],"sizing":{"maxPositionUsd":1000},"slippage":{"toleranceBps":250}}`
	s, err := ResolveStrategy([]byte(blob))
	require.NoError(t, err)
	require.InDelta(t, float64(MaxSlippageBps), s.ToleranceBps, 1e-9)
}

func TestNormaliseMarkets(t *testing.T) {
	blob := `{"markets":[" btc ","ETH","btc",""],"sizing":{"maxPositionUsd":1000}}`
	s, err := ResolveStrategy([]byte(blob))
	require.NoError(t, err)
	require.Equal(t, []string{"BTC", "ETH"}, s.Markets)
}
