package learner

import (
	"context"
	"math"
	"testing"
	"time"

	"arbiter/internal/shadow"
	"arbiter/internal/types"
	"arbiter/internal/weights"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLearner(t *testing.T, cfg Config) (*Learner, *weights.Store) {
	t.Helper()
	ws := weights.NewStore(nil)
	l := New(cfg, ws)
	l.nowFn = func() time.Time { return time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC) }
	return l, ws
}

func observeN(l *Learner, component string, wins, losses int) {
	for i := 0; i < wins; i++ {
		l.ObserveTrade(types.TradeOutcome{Symbol: "AAPL", PnL: 1, Components: []string{component}})
	}
	for i := 0; i < losses; i++ {
		l.ObserveTrade(types.TradeOutcome{Symbol: "AAPL", PnL: -1, Components: []string{component}})
	}
}

func TestRecalibrateAppliesBoundedStep(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	observeN(l, "options_flow", 40, 0)

	require.NoError(t, l.Recalibrate(context.Background()))

	band, ok := ws.Lookup("options_flow")
	require.True(t, ok)
	// 显著赢面也只挪一步，而不是跳到经验胜率。
	assert.InDelta(t, 1.05, band.CurrentWeight, 1e-9)
	assert.EqualValues(t, 40, band.SampleCount)
	assert.False(t, band.LastAdjusted.IsZero())
}

func TestRecalibrateUnderSampleNoChange(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	observeN(l, "options_flow", 10, 0)

	require.NoError(t, l.Recalibrate(context.Background()))

	band, ok := ws.Lookup("options_flow")
	require.True(t, ok)
	assert.InDelta(t, weights.NeutralWeight, band.CurrentWeight, 1e-9)
	// 样本数照记，权重不动。
	assert.EqualValues(t, 10, band.SampleCount)
}

func TestRecalibrateNotSignificantNoChange(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	observeN(l, "options_flow", 18, 16)

	require.NoError(t, l.Recalibrate(context.Background()))

	band, ok := ws.Lookup("options_flow")
	require.True(t, ok)
	assert.InDelta(t, weights.NeutralWeight, band.CurrentWeight, 1e-9)
}

func TestRecalibrateDriftClamp(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	observeN(l, "options_flow", 500, 0)

	// 每轮一步，最多 0.05；漂移钳在 neutral×1.4。
	for i := 0; i < 12; i++ {
		require.NoError(t, l.Recalibrate(context.Background()))
	}

	band, ok := ws.Lookup("options_flow")
	require.True(t, ok)
	assert.InDelta(t, 1.4, band.CurrentWeight, 1e-9)
}

func TestRecalibrateStepsDownOnLosses(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	observeN(l, "volatility_rank", 0, 40)

	require.NoError(t, l.Recalibrate(context.Background()))

	band, ok := ws.Lookup("volatility_rank")
	require.True(t, ok)
	assert.InDelta(t, 0.95, band.CurrentWeight, 1e-9)
}

func TestObserveTradeDropsInvalidPnl(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 2, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	l.ObserveTrade(types.TradeOutcome{Symbol: "AAPL", PnL: math.NaN(), Components: []string{"options_flow"}})
	l.ObserveTrade(types.TradeOutcome{Symbol: "AAPL", PnL: math.Inf(1), Components: []string{"options_flow"}})

	require.NoError(t, l.Recalibrate(context.Background()))
	_, ok := ws.Lookup("options_flow")
	assert.False(t, ok)
}

func TestObserveShadowCountsBaselineOnly(t *testing.T) {
	l, ws := newLearner(t, Config{MinSamples: 30, ConfidenceZ: 1.96, StepFrac: 0.05, MaxDriftFrac: 0.4})
	intent := shadow.Intent{IntentID: "x", Components: []string{"options_flow"}}
	l.ObserveShadow(intent, []shadow.Outcome{
		{Variant: shadow.VariantEnd, ReturnPct: 0.02},
		// 网格单元属于出场策略评估，不参与信号归因。
		{Variant: "tp2_sl1", ReturnPct: 0.02},
		{Variant: "tp2_sl1_best", ReturnPct: 0.02, Ambiguous: true},
	})

	require.NoError(t, l.Recalibrate(context.Background()))
	band, ok := ws.Lookup("options_flow")
	require.True(t, ok)
	assert.EqualValues(t, 1, band.SampleCount)
}

func TestZScore(t *testing.T) {
	// 40/0：p̂=1，z = (1-0.5)/sqrt(0.25/40) ≈ 6.32。
	assert.InDelta(t, 6.32, zScore(40, 0), 0.01)
	assert.InDelta(t, 0.0, zScore(20, 20), 1e-9)
	assert.Negative(t, zScore(0, 40))
}

func TestMinSamplesForMargin(t *testing.T) {
	// 95% CI、±18pp 目标边际 ⇒ 默认 30 样本门槛。
	assert.Equal(t, 30, MinSamplesForMargin(0.18))
}
