package exitrule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arena-api/pkg/broker"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func longPosition(entry float64, leverage float64, openedAt time.Time) *broker.Position {
	return &broker.Position{
		SessionID:  "sess-1",
		Market:     "BTC",
		Side:       broker.SideLong,
		Size:       1,
		EntryPrice: entry,
		Leverage:   leverage,
		OpenedAt:   openedAt,
	}
}

func TestParseMode(t *testing.T) {
	for _, raw := range []string{"signal", "tp_sl", "TRAILING", " time "} {
		_, err := ParseMode(raw)
		require.NoError(t, err, raw)
	}
	_, err := ParseMode("fibonacci")
	require.Error(t, err)
}

func TestTpSlMode(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Mode: ModeTpSl, TakeProfitPct: 5, StopLossPct: 3}
	eval := New(cfg, WithClock(fixedClock(now)))
	pos := longPosition(100, 1, now.Add(-time.Hour))

	t.Run("take profit fires", func(t *testing.T) {
		d := eval.Evaluate(pos, 105)
		require.True(t, d.ShouldExit)
		require.Contains(t, d.Reason, "take profit")
		require.False(t, d.IsEmergency)
	})

	t.Run("stop loss fires", func(t *testing.T) {
		d := eval.Evaluate(pos, 97)
		require.True(t, d.ShouldExit)
		require.Contains(t, d.Reason, "stop loss")
	})

	t.Run("inside band holds", func(t *testing.T) {
		d := eval.Evaluate(pos, 102)
		require.False(t, d.ShouldExit)
	})

	t.Run("leverage amplifies pnl pct", func(t *testing.T) {
		// 1% price move at 5x is a 5% margin move.
		lev := longPosition(100, 5, now.Add(-time.Hour))
		d := eval.Evaluate(lev, 101)
		require.True(t, d.ShouldExit)
		require.Contains(t, d.Reason, "take profit")
	})
}

func TestMinHoldSuppression(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Mode: ModeTpSl, TakeProfitPct: 5, StopLossPct: 3, MinHoldMinutes: 5}
	eval := New(cfg, WithClock(fixedClock(now)))

	t.Run("fresh position is held", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-2*time.Minute))
		d := eval.Evaluate(pos, 110)
		require.False(t, d.ShouldExit)
		require.True(t, d.Suppressed)
		require.Contains(t, d.Reason, "min hold")
	})

	t.Run("aged position exits", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-6*time.Minute))
		d := eval.Evaluate(pos, 110)
		require.True(t, d.ShouldExit)
		require.False(t, d.Suppressed)
	})
}

func TestSignalModeGuardrails(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Mode: ModeSignal, MaxLossPct: 10, MaxProfitPct: 50, MinHoldMinutes: 5}
	eval := New(cfg, WithClock(fixedClock(now)))

	t.Run("no thresholds means no exit", func(t *testing.T) {
		plain := New(Config{Mode: ModeSignal}, WithClock(fixedClock(now)))
		pos := longPosition(100, 1, now.Add(-time.Hour))
		require.False(t, plain.Evaluate(pos, 50).ShouldExit)
	})

	t.Run("max loss bypasses min hold", func(t *testing.T) {
		// Opened one minute ago, already down 12% on margin.
		pos := longPosition(100, 1, now.Add(-time.Minute))
		d := eval.Evaluate(pos, 88)
		require.True(t, d.ShouldExit)
		require.True(t, d.IsEmergency)
		require.Contains(t, d.Reason, "max loss")
	})

	t.Run("max profit cap is emergency", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-time.Minute))
		d := eval.Evaluate(pos, 151)
		require.True(t, d.ShouldExit)
		require.True(t, d.IsEmergency)
	})
}

func TestTrailingMode(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Mode: ModeTrailing, TrailingStopPct: 2, InitialStopLossPct: 8}
	eval := New(cfg, WithClock(fixedClock(now)))

	t.Run("peak updates on favorable move", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-time.Hour))
		d := eval.Evaluate(pos, 104)
		require.False(t, d.ShouldExit)
		require.NotNil(t, d.UpdatedPeak)
		require.InDelta(t, 104, *d.UpdatedPeak, 1e-9)
	})

	t.Run("retracement from persisted peak exits", func(t *testing.T) {
		peak := 110.0
		pos := longPosition(100, 1, now.Add(-time.Hour))
		pos.PeakPrice = &peak
		d := eval.Evaluate(pos, 107) // 2.7% off the peak
		require.True(t, d.ShouldExit)
		require.Contains(t, d.Reason, "trailing stop")
		require.Nil(t, d.UpdatedPeak)
	})

	t.Run("short peak tracks lows", func(t *testing.T) {
		peak := 95.0
		pos := longPosition(100, 1, now.Add(-time.Hour))
		pos.Side = broker.SideShort
		pos.PeakPrice = &peak
		d := eval.Evaluate(pos, 90)
		require.False(t, d.ShouldExit)
		require.NotNil(t, d.UpdatedPeak)
		require.InDelta(t, 90, *d.UpdatedPeak, 1e-9)

		d = eval.Evaluate(pos, 97) // 2.1% adverse bounce off the 95 low
		require.True(t, d.ShouldExit)
	})

	t.Run("initial stop loss floor is emergency", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-time.Hour))
		d := eval.Evaluate(pos, 91)
		require.True(t, d.ShouldExit)
		require.True(t, d.IsEmergency)
		require.Contains(t, d.Reason, "initial stop loss")
	})
}

func TestTimeMode(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Mode: ModeTime, MaxHoldMinutes: 60, MinHoldMinutes: 5}
	eval := New(cfg, WithClock(fixedClock(now)))

	t.Run("under max hold", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-30*time.Minute))
		require.False(t, eval.Evaluate(pos, 100).ShouldExit)
	})

	t.Run("over max hold exits regardless of pnl", func(t *testing.T) {
		pos := longPosition(100, 1, now.Add(-61*time.Minute))
		d := eval.Evaluate(pos, 100)
		require.True(t, d.ShouldExit)
		require.True(t, d.IsTimeBased)
		require.Contains(t, d.Reason, "max hold")
	})
}

func TestEvaluateGuards(t *testing.T) {
	eval := New(Config{Mode: ModeTpSl, TakeProfitPct: 5})
	require.False(t, eval.Evaluate(nil, 100).ShouldExit)
	pos := longPosition(100, 1, time.Now())
	require.False(t, eval.Evaluate(pos, 0).ShouldExit)
}
