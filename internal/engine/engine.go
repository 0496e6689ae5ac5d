// Package engine drives the per-tick decision cycle: one position snapshot,
// then aggregate → gates → trace → persistence → shadow enqueue per symbol.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/gate"
	"arbiter/internal/learner"
	"arbiter/internal/logger"
	"arbiter/internal/pkg/circuit"
	"arbiter/internal/shadow"
	"arbiter/internal/signal"
	"arbiter/internal/store/tracelog"
	"arbiter/internal/trace"
	"arbiter/internal/types"

	"golang.org/x/sync/errgroup"
)

// recentReturnsCap 限制健康巡检用的收益环形缓冲大小。
const recentReturnsCap = 256

// Deps 汇总引擎的全部协作方。
type Deps struct {
	Signals    SignalSource
	Positions  PositionSource
	Aggregator *signal.Aggregator
	Validator  *trace.Validator
	Traces     *tracelog.Store
	Evaluator  *shadow.Evaluator
	Learner    *learner.Learner
	Breaker    *circuit.Breaker

	// MetaLookup 可选：返回标的的行业与主题标签（risk gate 的敞口检查用）。
	MetaLookup func(symbol string) (sector, theme string)
	// MarketOpen 可选：交易时段判断，nil 视为始终开市。
	MarketOpen func(time.Time) bool
	// EntryHook 可选：entered 决策回调给外部执行端。
	EntryHook EntryHook
}

// Engine 每轮对信号批次里的每个标的独立裁决。轮内持仓快照只取一次，
// 所有 gate 看到同一份视图。
type Engine struct {
	deps     Deps
	pipeline *gate.Pipeline
	horizons []int
	workers  int

	gatesCfg atomic.Pointer[config.GatesConfig]
	baseCfg  config.GatesConfig

	mu            sync.Mutex
	cooldowns     map[string]time.Time
	lastBatch     time.Time
	lastBookCount int
	recentReturns []float64
	tradeTimes    []time.Time

	nowFn func() time.Time
}

func New(cfg config.GatesConfig, workers int, horizons []int, deps Deps) *Engine {
	if workers <= 0 {
		workers = 4
	}
	e := &Engine{
		deps:      deps,
		baseCfg:   cfg,
		horizons:  append([]int(nil), horizons...),
		workers:   workers,
		cooldowns: make(map[string]time.Time),
		nowFn:     time.Now,
	}
	e.gatesCfg.Store(&cfg)
	e.pipeline = gate.NewPipeline(e.sinkBlocked)
	return e
}

// ApplyThresholds 把热更新的阈值覆盖到基础配置上。文件里缺省（零值）的字段
// 保持基础配置不动。
func (e *Engine) ApplyThresholds(snap loader.ThresholdSnapshot) {
	next := e.baseCfg
	th := snap.Thresholds
	if th.ScoreMin > 0 {
		next.ScoreMin = th.ScoreMin
	}
	if th.MaxPositions > 0 {
		next.MaxPositions = th.MaxPositions
	}
	if th.MinHoldSeconds > 0 {
		next.Displacement.MinHoldSeconds = th.MinHoldSeconds
	}
	if th.DominanceDelta > 0 {
		next.Displacement.DominanceDelta = th.DominanceDelta
	}
	if th.MinConfidence > 0 {
		next.Directional.MinConfidence = th.MinConfidence
	}
	e.gatesCfg.Store(&next)
	logger.Infof("engine: gate thresholds applied (version=%d, score_min=%.3f, max_positions=%d)",
		snap.Version, next.ScoreMin, next.MaxPositions)
}

func (e *Engine) gatesSnapshot() config.GatesConfig {
	return *e.gatesCfg.Load()
}

// RunCycle 执行一轮完整决策。单个标的的失败只记日志，不中断其余标的。
func (e *Engine) RunCycle(ctx context.Context) error {
	batch, err := e.deps.Signals.Latest(ctx)
	if err != nil {
		return fmt.Errorf("fetch signal batch: %w", err)
	}
	e.mu.Lock()
	e.lastBatch = e.nowFn()
	e.mu.Unlock()
	if batch.Degraded {
		logger.Warnf("engine: signal batch degraded, proceeding best-effort")
	}
	if len(batch.Symbols) == 0 {
		logger.Debugf("engine: empty signal batch, nothing to decide")
		return nil
	}

	book, err := e.deps.Positions.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch position snapshot: %w", err)
	}
	e.mu.Lock()
	e.lastBookCount = book.Count()
	e.mu.Unlock()

	symbols := make([]string, 0, len(batch.Symbols))
	for sym := range batch.Symbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	cfg := e.gatesSnapshot()
	cooldowns := e.cooldownView()
	now := e.nowFn().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, sym := range symbols {
		sym := sym
		sig := batch.Symbols[sym]
		g.Go(func() error {
			if err := e.decideSymbol(gctx, sym, sig, book, cfg, cooldowns, now); err != nil {
				logger.Errorf("engine: decision for %s failed: %v", sym, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// decideSymbol 对单个标的走完整链路：聚合 → gate 仲裁 → trace 封存落盘 →
// shadow intent 入队。trace 先封存再落盘，落盘失败不回滚裁决。
func (e *Engine) decideSymbol(ctx context.Context, symbol string, sig signal.SymbolSignals,
	book types.PositionBook, cfg config.GatesConfig, cooldowns map[string]time.Time, now time.Time) error {

	agg := e.deps.Aggregator.Aggregate(sig.Components)
	if agg.EmptyInput {
		logger.Debugf("engine: %s has no usable signal components, skipped", symbol)
		return nil
	}

	side := agg.Direction
	if side == "" {
		side = types.SideLong
	}

	var sector, theme string
	if e.deps.MetaLookup != nil {
		sector, theme = e.deps.MetaLookup(symbol)
	}
	cand := gate.Candidate{
		Symbol: symbol,
		Side:   side,
		Score:  agg.NormalizedScore,
		Price:  sig.Price,
		Sector: sector,
		Theme:  theme,
		Agg:    agg,
	}
	gctx := &gate.Context{
		Now:        now,
		Candidate:  cand,
		Book:       book,
		Cfg:        cfg,
		Breaker:    e.deps.Breaker,
		Cooldowns:  cooldowns,
		MarketOpen: e.deps.MarketOpen,
	}

	tr := trace.New(symbol, side, now, agg)
	decision := e.pipeline.Run(gctx)
	for _, res := range decision.Results {
		if err := tr.AddGateResult(res); err != nil {
			logger.Errorf("engine: trace append for %s: %v", symbol, err)
		}
	}
	if err := tr.Finalize(decision); err != nil {
		return fmt.Errorf("finalize trace: %w", err)
	}
	if err := e.deps.Validator.Validate(tr); err != nil {
		// 校验失败是运维问题：trace 打 invalid 标记后照常落盘。
		logger.Errorf("engine: trace for %s invalid: %v", symbol, err)
	}
	if err := e.deps.Traces.AppendTrace(ctx, tr); err != nil {
		logger.Errorf("engine: persist trace for %s failed: %v", symbol, err)
	}

	e.enqueueShadow(ctx, tr, decision, cand, now)

	if !decision.Blocked() {
		e.mu.Lock()
		e.cooldowns[symbol] = now
		e.mu.Unlock()
		if e.deps.EntryHook != nil {
			e.deps.EntryHook(cand, decision.Eviction, now)
		}
	}
	return nil
}

// enqueueShadow 为 blocked 与 taken 两类决策都登记反事实 intent；没有参考价
// 时无法回放，跳过并记日志。
func (e *Engine) enqueueShadow(ctx context.Context, tr *trace.Trace, decision gate.Decision,
	cand gate.Candidate, now time.Time) {
	if e.deps.Evaluator == nil || len(e.horizons) == 0 {
		return
	}
	if cand.Price <= 0 {
		logger.Debugf("engine: no reference price for %s, shadow intent skipped", cand.Symbol)
		return
	}
	kind := shadow.KindTaken
	if decision.Blocked() {
		kind = shadow.KindBlocked
	}
	intent := shadow.Intent{
		SchemaVersion: types.SchemaVersion,
		IntentID:      tr.IntentID,
		Symbol:        cand.Symbol,
		EntryTS:       now,
		EntryPrice:    cand.Price,
		Direction:     cand.Side,
		Kind:          kind,
		HorizonsMin:   append([]int(nil), e.horizons...),
		Components:    componentNames(cand.Agg),
	}
	if err := e.deps.Evaluator.Enqueue(ctx, intent); err != nil {
		logger.Errorf("engine: shadow enqueue for %s failed: %v", cand.Symbol, err)
	}
}

func (e *Engine) sinkBlocked(rec types.BlockedTradeRecord) {
	if e.deps.Traces == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Traces.AppendBlocked(ctx, rec); err != nil {
		logger.Errorf("engine: persist blocked record for %s failed: %v", rec.Symbol, err)
	}
}

// OnTradeOutcome 接收执行端回传的已实现结果：归因给 learner，刷新冷却与
// 健康巡检用的收益/节奏缓冲。
func (e *Engine) OnTradeOutcome(o types.TradeOutcome) {
	if e.deps.Learner != nil {
		e.deps.Learner.ObserveTrade(o)
	}
	closedAt := o.ClosedAt
	if closedAt.IsZero() {
		closedAt = e.nowFn()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[o.Symbol] = closedAt
	e.recentReturns = append(e.recentReturns, o.PnLPct)
	if len(e.recentReturns) > recentReturnsCap {
		e.recentReturns = e.recentReturns[len(e.recentReturns)-recentReturnsCap:]
	}
	e.tradeTimes = append(e.tradeTimes, closedAt)
	cutoff := e.nowFn().Add(-time.Hour)
	for len(e.tradeTimes) > 0 && e.tradeTimes[0].Before(cutoff) {
		e.tradeTimes = e.tradeTimes[1:]
	}
}

func (e *Engine) cooldownView() map[string]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	view := make(map[string]time.Time, len(e.cooldowns))
	for k, v := range e.cooldowns {
		view[k] = v
	}
	return view
}

// LastBatchAt 返回最近一次信号批次的接收时间（健康巡检用）。
func (e *Engine) LastBatchAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBatch
}

// LastBookCount 返回上一轮持仓快照的仓位数量（持仓一致性巡检用）。
func (e *Engine) LastBookCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBookCount
}

// RecentReturns 返回已实现收益序列的拷贝（健康巡检用）。
func (e *Engine) RecentReturns() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.recentReturns...)
}

// TradesPerHour 返回最近一小时的成交节奏。
func (e *Engine) TradesPerHour() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.nowFn().Add(-time.Hour)
	n := 0
	for _, ts := range e.tradeTimes {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return float64(n)
}

func componentNames(agg signal.Aggregation) []string {
	names := make([]string, 0, len(agg.ScoreComponents))
	for name := range agg.ScoreComponents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
