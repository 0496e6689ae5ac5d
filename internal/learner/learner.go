// Package learner proposes statistically gated, bounded adjustments to the
// weight bands from realized trade and shadow outcomes. It is the single
// writer of the weight store.
package learner

import (
	"context"
	"math"
	"sync"
	"time"

	"arbiter/internal/logger"
	"arbiter/internal/shadow"
	"arbiter/internal/types"
	"arbiter/internal/weights"
)

type Config struct {
	MinSamples   int
	ConfidenceZ  float64
	StepFrac     float64
	MaxDriftFrac float64
	// MarginOfError 若设置，会把 MinSamples 抬到满足该误差幅度的样本量。
	MarginOfError float64
}

type tally struct {
	wins   int64
	losses int64
}

// Learner 累计各分量的胜负并周期性重校准权重带。
// 统计闸门：样本量不足或偏离不显著的分量原样保留；无数据的分量从不被
// 悄悄衰减回中性。
type Learner struct {
	mu      sync.Mutex
	cfg     Config
	store   *weights.Store
	tallies map[string]*tally
	nowFn   func() time.Time
}

func New(cfg Config, store *weights.Store) *Learner {
	if cfg.MinSamples < 2 {
		cfg.MinSamples = 30
	}
	if derived := MinSamplesForMargin(cfg.MarginOfError); derived > cfg.MinSamples {
		cfg.MinSamples = derived
	}
	if cfg.ConfidenceZ <= 0 {
		cfg.ConfidenceZ = 1.96
	}
	return &Learner{
		cfg:     cfg,
		store:   store,
		tallies: make(map[string]*tally),
		nowFn:   time.Now,
	}
}

// ObserveTrade 按贡献分量归因一笔已实现结果。NaN/Inf 样本直接丢弃。
func (l *Learner) ObserveTrade(o types.TradeOutcome) {
	if math.IsNaN(o.PnL) || math.IsInf(o.PnL, 0) {
		logger.Warnf("learner: dropping outcome with invalid pnl (symbol=%s)", o.Symbol)
		return
	}
	l.record(o.Components, o.Win())
}

// ObserveShadow 归因一组反事实结果。只取 baseline（持有到期）结果，网格单元
// 属于出场策略评估，不参与信号归因。
func (l *Learner) ObserveShadow(intent shadow.Intent, outcomes []shadow.Outcome) {
	for _, o := range outcomes {
		if o.Variant != shadow.VariantEnd {
			continue
		}
		if math.IsNaN(o.ReturnPct) || math.IsInf(o.ReturnPct, 0) {
			continue
		}
		l.record(intent.Components, o.ReturnPct > 0)
	}
}

func (l *Learner) record(components []string, win bool) {
	if len(components) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range components {
		if name == "" {
			continue
		}
		t := l.tallies[name]
		if t == nil {
			t = &tally{}
			l.tallies[name] = t
		}
		if win {
			t.wins++
		} else {
			t.losses++
		}
	}
}

// Recalibrate 对每个分量做 z 检验并应用有界步进调整，然后整组原子替换
// 权重带。调整永远是围绕 neutral 的小步，而不是跳到经验胜率本身。
func (l *Learner) Recalibrate(ctx context.Context) error {
	l.mu.Lock()
	counts := make(map[string]tally, len(l.tallies))
	for name, t := range l.tallies {
		counts[name] = *t
	}
	l.mu.Unlock()

	_, bands := l.store.Bands()
	byName := make(map[string]weights.Band, len(bands))
	for _, b := range bands {
		byName[b.ComponentName] = b
	}

	now := l.nowFn().UTC()
	adjusted := 0
	for name, t := range counts {
		n := t.wins + t.losses
		if n == 0 {
			continue
		}
		band, ok := byName[name]
		if !ok {
			band = weights.Band{
				ComponentName: name,
				NeutralWeight: weights.NeutralWeight,
				CurrentWeight: weights.NeutralWeight,
			}
		}
		if n > band.SampleCount {
			band.SampleCount = n
		}

		if n >= int64(l.cfg.MinSamples) {
			if next, ok := l.propose(band, t); ok {
				band.CurrentWeight = next
				band.LastAdjusted = now
				adjusted++
			}
		}
		byName[name] = band
	}

	next := make([]weights.Band, 0, len(byName))
	for _, b := range byName {
		next = append(next, b)
	}
	if err := l.store.Replace(ctx, next); err != nil {
		return err
	}
	if adjusted > 0 {
		logger.Infof("learner: recalibrated %d/%d components (version=%d)",
			adjusted, len(counts), l.store.Version())
	}
	return nil
}

// propose 返回统计显著时的新权重。步长为 neutral 的固定比例，整体漂移
// 被钳制在 neutral±MaxDriftFrac 之内。
func (l *Learner) propose(band weights.Band, t tally) (float64, bool) {
	z := zScore(t.wins, t.losses)
	if math.Abs(z) < l.cfg.ConfidenceZ {
		return 0, false
	}
	step := l.cfg.StepFrac * band.NeutralWeight
	if z < 0 {
		step = -step
	}
	next := band.CurrentWeight + step
	lo := band.NeutralWeight * (1 - l.cfg.MaxDriftFrac)
	hi := band.NeutralWeight * (1 + l.cfg.MaxDriftFrac)
	next = math.Max(lo, math.Min(hi, next))
	if next == band.CurrentWeight {
		return 0, false
	}
	return next, true
}
