package gate

import (
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/pkg/circuit"
	"arbiter/internal/signal"
	"arbiter/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCfg() config.GatesConfig {
	return config.GatesConfig{
		ScoreMin:         0.5,
		MaxPositions:     2,
		CooldownSeconds:  180,
		MaxPerSymbol:     1,
		MaxPerSector:     3,
		MaxThemeExposure: 4,
		Displacement: config.DisplacementConfig{
			Enabled:        true,
			MinHoldSeconds: 900,
			DominanceDelta: 0.3,
		},
		Directional: config.DirectionalConfig{
			MinConfidence:    0.25,
			HighVolThreshold: 1.5,
			IgnitionZScore:   3.0,
		},
	}
}

func alignedAgg(direction string) signal.Aggregation {
	return signal.Aggregation{
		Direction:           direction,
		DirectionConfidence: 0.9,
		ScoreComponents:     map[string]signal.ScoreComponent{},
		SignalLayers:        map[string][]signal.LayerSignal{},
	}
}

func newCtx(cand Candidate, book types.PositionBook, cfg config.GatesConfig) *Context {
	return &Context{
		Now:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Candidate: cand,
		Book:      book,
		Cfg:       cfg,
	}
}

func position(symbol string, score float64, heldFor time.Duration, now time.Time) types.PositionSnapshot {
	return types.PositionSnapshot{
		Symbol:    symbol,
		Side:      types.SideLong,
		Score:     score,
		EntryTime: now.Add(-heldFor),
	}
}

func TestFirstBlockIsTerminal(t *testing.T) {
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.2, Agg: alignedAgg(types.SideLong)},
		types.PositionBook{}, baseCfg())
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonScoreBelowMin, d.PrimaryReason)
	// score gate 拦截后不再执行后续 gate。
	require.Len(t, d.Results, 1)
	assert.Equal(t, "score_gate", d.Results[0].Gate)
}

func TestAllGatesPass(t *testing.T) {
	var blocked []types.BlockedTradeRecord
	sink := func(rec types.BlockedTradeRecord) { blocked = append(blocked, rec) }

	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.8, Price: 190, Agg: alignedAgg(types.SideLong)},
		types.PositionBook{}, baseCfg())
	d := NewPipeline(sink).Run(ctx)

	assert.Equal(t, OutcomeEntered, d.Outcome)
	assert.Equal(t, ReasonAllPassed, d.PrimaryReason)
	assert.Len(t, d.Results, 5)
	assert.Nil(t, d.Eviction)
	assert.Empty(t, blocked)
}

func TestCapacityBlocksWithoutDisplacement(t *testing.T) {
	cfg := baseCfg()
	cfg.Displacement.Enabled = false
	now := time.Now().UTC()
	book := types.PositionBook{Positions: []types.PositionSnapshot{
		position("MSFT", 0.6, time.Hour, now),
		position("NVDA", 0.7, time.Hour, now),
	}}
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.9, Agg: alignedAgg(types.SideLong)}, book, cfg)
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonMaxPositions, d.PrimaryReason)
	require.Len(t, d.Results, 2)
	assert.Equal(t, "capacity_gate", d.Results[1].Gate)
}

func TestDisplacementMinHoldBeatsDominance(t *testing.T) {
	cfg := baseCfg()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	// 分差远超 dominance delta，但最弱持仓刚开 2 分钟：min_hold 必须赢。
	book := types.PositionBook{Positions: []types.PositionSnapshot{
		position("MSFT", 0.1, 2*time.Minute, now),
		position("NVDA", 0.9, 2*time.Hour, now),
	}}
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.99, Agg: alignedAgg(types.SideLong)}, book, cfg)
	ctx.Now = now
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDisplacementMinHold, d.PrimaryReason)
}

func TestDisplacementNoDominance(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	book := types.PositionBook{Positions: []types.PositionSnapshot{
		position("MSFT", 0.6, 2*time.Hour, now),
		position("NVDA", 0.7, 2*time.Hour, now),
	}}
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.7, Agg: alignedAgg(types.SideLong)}, book, baseCfg())
	ctx.Now = now
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDisplacementNoDominance, d.PrimaryReason)
}

func TestDisplacementEvictsWeakest(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	book := types.PositionBook{Positions: []types.PositionSnapshot{
		position("MSFT", 0.2, 2*time.Hour, now),
		position("NVDA", 0.7, 2*time.Hour, now),
	}}
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.9, Price: 190, Agg: alignedAgg(types.SideLong)}, book, baseCfg())
	ctx.Now = now
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeEntered, d.Outcome)
	require.NotNil(t, d.Eviction)
	assert.Equal(t, "MSFT", d.Eviction.Symbol)
}

func TestRiskGateOrdersViolations(t *testing.T) {
	cfg := baseCfg()
	cfg.LongOnly = true
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideShort, Score: 0.8, Agg: alignedAgg(types.SideShort)},
		types.PositionBook{}, cfg)
	ctx.Cooldowns = map[string]time.Time{"AAPL": ctx.Now.Add(-time.Minute)}
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonLongOnlyShort, d.PrimaryReason)
	assert.Equal(t, []Reason{ReasonSymbolCooldown}, d.SecondaryReasons)
}

func TestBreakerHaltsEntries(t *testing.T) {
	cb := circuit.NewBreaker("entry_admission", 3, 10*time.Minute)
	cb.ForceOpen()
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.8, Agg: alignedAgg(types.SideLong)},
		types.PositionBook{}, baseCfg())
	ctx.Breaker = cb
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonRegimeBlocked, d.PrimaryReason)
}

func TestDirectionalConflictLowConfidence(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	book := types.PositionBook{Positions: []types.PositionSnapshot{
		{Symbol: "MSFT", Side: types.SideShort, Score: 0.5, EntryTime: now.Add(-time.Hour)},
	}}
	cfg := baseCfg()
	cfg.MaxPositions = 4
	agg := alignedAgg(types.SideLong)
	agg.DirectionConfidence = 0.1
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.8, Agg: agg}, book, cfg)
	ctx.Now = now
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDirectionalConflict, d.PrimaryReason)
}

func TestMomentumIgnitionFilter(t *testing.T) {
	agg := alignedAgg(types.SideLong)
	agg.ScoreComponents["momentum_ignition"] = signal.ScoreComponent{Value: 4.2}
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.8, Agg: agg},
		types.PositionBook{}, baseCfg())
	d := NewPipeline(nil).Run(ctx)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonMomentumIgnition, d.PrimaryReason)
}

func TestBlockedSinkReceivesRecord(t *testing.T) {
	var blocked []types.BlockedTradeRecord
	ctx := newCtx(Candidate{Symbol: "AAPL", Side: types.SideLong, Score: 0.1, Agg: alignedAgg(types.SideLong)},
		types.PositionBook{}, baseCfg())
	NewPipeline(func(rec types.BlockedTradeRecord) { blocked = append(blocked, rec) }).Run(ctx)

	require.Len(t, blocked, 1)
	assert.Equal(t, "AAPL", blocked[0].Symbol)
	assert.Equal(t, string(ReasonScoreBelowMin), blocked[0].Reason)
	assert.Equal(t, types.SchemaVersion, blocked[0].SchemaVersion)
}
