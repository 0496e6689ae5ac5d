package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/gate"
	"arbiter/internal/shadow"
	"arbiter/internal/signal"
	"arbiter/internal/store/tracelog"
	"arbiter/internal/trace"
	"arbiter/internal/types"
	"arbiter/internal/weights"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSignals struct{ batch signal.Batch }

func (s *staticSignals) Latest(ctx context.Context) (signal.Batch, error) { return s.batch, nil }

type staticPositions struct{ book types.PositionBook }

func (s *staticPositions) Snapshot(ctx context.Context) (types.PositionBook, error) {
	return s.book, nil
}
func (s *staticPositions) Ping(ctx context.Context) error { return nil }

// memIntents 只记录入队的 intent，评估路径在别处测试。
type memIntents struct {
	mu      sync.Mutex
	intents []shadow.Intent
}

func (m *memIntents) EnqueueIntent(ctx context.Context, intent shadow.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.intents {
		if got.IntentID == intent.IntentID {
			return nil
		}
	}
	m.intents = append(m.intents, intent)
	return nil
}
func (m *memIntents) PendingIntents(ctx context.Context) ([]shadow.Intent, error) { return nil, nil }
func (m *memIntents) MarkHorizonEvaluated(ctx context.Context, id string, h int) error {
	return nil
}
func (m *memIntents) ArchiveIntent(ctx context.Context, id string) error { return nil }
func (m *memIntents) AppendOutcomes(ctx context.Context, o []shadow.Outcome) error {
	return nil
}
func (m *memIntents) HasOutcome(ctx context.Context, id string, h int) (bool, error) {
	return false, nil
}

func (m *memIntents) byKind(kind string) []shadow.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shadow.Intent
	for _, it := range m.intents {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

type noPrices struct{}

func (noPrices) PathSince(ctx context.Context, symbol string, from, until time.Time) (shadow.PricePath, error) {
	return shadow.PricePath{}, shadow.ErrPriceUnavailable
}

func gatesCfg() config.GatesConfig {
	return config.GatesConfig{
		ScoreMin:         0.5,
		MaxPositions:     4,
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

func testBatch() signal.Batch {
	return signal.Batch{
		AsOf: time.Now().UTC(),
		Symbols: map[string]signal.SymbolSignals{
			"AAPL": {Price: 190, Components: map[string]any{
				"options_flow": 2.0, "dark_pool_ratio": 1.5,
			}},
			"ZZZ": {Price: 10, Components: map[string]any{
				"options_flow": 0.1, "dark_pool_ratio": 0.05,
			}},
			"EMPTY": {Price: 5, Components: map[string]any{}},
		},
	}
}

type testHarness struct {
	engine  *Engine
	traces  *tracelog.Store
	intents *memIntents
	entered []gate.Candidate
}

func newHarness(t *testing.T, cfg config.GatesConfig) *testHarness {
	t.Helper()
	dir := t.TempDir()
	traces, err := tracelog.NewStore(filepath.Join(dir, "traces.db"), filepath.Join(dir, "traces.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { traces.Close() })

	h := &testHarness{traces: traces, intents: &memIntents{}}
	var mu sync.Mutex
	deps := Deps{
		Signals:    &staticSignals{batch: testBatch()},
		Positions:  &staticPositions{},
		Aggregator: signal.NewAggregator(weights.NewStore(nil)),
		Validator:  trace.NewValidator(64 * 1024),
		Traces:     traces,
		Evaluator:  shadow.NewEvaluator(h.intents, noPrices{}, shadow.GridConfig{}),
		EntryHook: func(cand gate.Candidate, eviction *types.PositionSnapshot, at time.Time) {
			mu.Lock()
			h.entered = append(h.entered, cand)
			mu.Unlock()
		},
	}
	h.engine = New(cfg, 2, []int{30, 120}, deps)
	return h
}

func TestRunCyclePersistsTracesAndEnqueuesShadow(t *testing.T) {
	h := newHarness(t, gatesCfg())
	ctx := context.Background()
	require.NoError(t, h.engine.RunCycle(ctx))

	rows, err := h.traces.RecentTraces(ctx, tracelog.TraceQuery{})
	require.NoError(t, err)
	// EMPTY 没有可用分量：不裁决、不留 trace。
	require.Len(t, rows, 2)

	byOutcome := map[string]string{}
	for _, r := range rows {
		byOutcome[r.Symbol] = r.Outcome
	}
	assert.Equal(t, gate.OutcomeEntered, byOutcome["AAPL"])
	assert.Equal(t, gate.OutcomeBlocked, byOutcome["ZZZ"])

	// blocked 与 taken 都登记反事实 intent。
	taken := h.intents.byKind(shadow.KindTaken)
	blocked := h.intents.byKind(shadow.KindBlocked)
	require.Len(t, taken, 1)
	require.Len(t, blocked, 1)
	assert.Equal(t, "AAPL", taken[0].Symbol)
	assert.Equal(t, []int{30, 120}, taken[0].HorizonsMin)
	assert.Equal(t, []string{"dark_pool_ratio", "options_flow"}, taken[0].Components)
	assert.Equal(t, "ZZZ", blocked[0].Symbol)

	require.Len(t, h.entered, 1)
	assert.Equal(t, "AAPL", h.entered[0].Symbol)
	assert.False(t, h.engine.LastBatchAt().IsZero())
	assert.Zero(t, h.engine.LastBookCount())
}

func TestRunCycleIdempotentIntentIDs(t *testing.T) {
	h := newHarness(t, gatesCfg())
	ctx := context.Background()
	require.NoError(t, h.engine.RunCycle(ctx))
	require.NoError(t, h.engine.RunCycle(ctx))

	// 每轮都是新的 intent：两轮四条，ID 各不相同。
	all := append(h.intents.byKind(shadow.KindTaken), h.intents.byKind(shadow.KindBlocked)...)
	require.Len(t, all, 4)
	seen := map[string]bool{}
	for _, it := range all {
		assert.False(t, seen[it.IntentID])
		seen[it.IntentID] = true
	}
}

func TestApplyThresholdsOverlay(t *testing.T) {
	h := newHarness(t, gatesCfg())
	ctx := context.Background()

	// 热更新抬高分数线：原本 entered 的 AAPL 也被拦下。
	h.engine.ApplyThresholds(loader.ThresholdSnapshot{
		Version:    2,
		Thresholds: loader.GateThresholds{ScoreMin: 0.99},
	})
	require.NoError(t, h.engine.RunCycle(ctx))

	rows, err := h.traces.RecentTraces(ctx, tracelog.TraceQuery{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, gate.OutcomeBlocked, rows[0].Outcome)
	assert.Equal(t, string(gate.ReasonScoreBelowMin), rows[0].PrimaryReason)

	// 零值字段不覆盖基础配置。
	snap := h.engine.gatesSnapshot()
	assert.Equal(t, 4, snap.MaxPositions)
	assert.InDelta(t, 0.3, snap.Displacement.DominanceDelta, 1e-9)
}

func TestOnTradeOutcomeBuffers(t *testing.T) {
	h := newHarness(t, gatesCfg())
	now := time.Now()
	h.engine.OnTradeOutcome(types.TradeOutcome{Symbol: "AAPL", PnLPct: 0.012, ClosedAt: now})
	h.engine.OnTradeOutcome(types.TradeOutcome{Symbol: "MSFT", PnLPct: -0.004, ClosedAt: now})

	assert.Equal(t, []float64{0.012, -0.004}, h.engine.RecentReturns())
	assert.InDelta(t, 2, h.engine.TradesPerHour(), 1e-9)
}

func TestOnTradeOutcomeStartsCooldown(t *testing.T) {
	h := newHarness(t, gatesCfg())
	ctx := context.Background()

	// 刚平仓的标的处于冷却期：下一轮被 risk gate 拦截。
	h.engine.OnTradeOutcome(types.TradeOutcome{Symbol: "AAPL", PnLPct: 0.01, ClosedAt: time.Now()})
	require.NoError(t, h.engine.RunCycle(ctx))

	rows, err := h.traces.RecentTraces(ctx, tracelog.TraceQuery{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, gate.OutcomeBlocked, rows[0].Outcome)
	assert.Equal(t, string(gate.ReasonSymbolCooldown), rows[0].PrimaryReason)
}
