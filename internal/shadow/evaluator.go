package shadow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbiter/internal/logger"
)

// IntentStore 是评估器的簿记后端（gorm/sqlite 实现见 store/shadowstore）。
type IntentStore interface {
	EnqueueIntent(ctx context.Context, intent Intent) error
	PendingIntents(ctx context.Context) ([]Intent, error)
	MarkHorizonEvaluated(ctx context.Context, intentID string, horizonMin int) error
	ArchiveIntent(ctx context.Context, intentID string) error
	AppendOutcomes(ctx context.Context, outcomes []Outcome) error
	HasOutcome(ctx context.Context, intentID string, horizonMin int) (bool, error)
}

// OutcomeHook 在新结果产出时回调（learner 订阅 baseline 结果做归因）。
type OutcomeHook func(intent Intent, outcomes []Outcome)

// Evaluator 独立于决策周期运行，每轮扫描到期 intent 并回放价格路径。
type Evaluator struct {
	store   IntentStore
	prices  PriceSource
	grid    GridConfig
	hook    OutcomeHook
	nowFn   func() time.Time
}

func NewEvaluator(store IntentStore, prices PriceSource, grid GridConfig) *Evaluator {
	return &Evaluator{
		store:  store,
		prices: prices,
		grid:   grid,
		nowFn:  time.Now,
	}
}

// SetOutcomeHook 注册结果回调；在评估 goroutine 内同步调用，需自行保证轻量。
func (e *Evaluator) SetOutcomeHook(hook OutcomeHook) { e.hook = hook }

// Enqueue 为一笔 blocked/taken 决策登记 intent。insert-if-absent：与评估路径
// 的 mutate-existing 互不相交，无需跨组件锁。
func (e *Evaluator) Enqueue(ctx context.Context, intent Intent) error {
	if intent.IntentID == "" {
		return fmt.Errorf("intent requires intent_id")
	}
	if intent.EntryPrice <= 0 {
		return fmt.Errorf("intent %s requires positive entry price", intent.IntentID)
	}
	if len(intent.HorizonsMin) == 0 {
		return fmt.Errorf("intent %s requires horizons", intent.IntentID)
	}
	return e.store.EnqueueIntent(ctx, intent)
}

// RunOnce 执行一轮评估。单个 intent 的失败不影响其余 intent。
func (e *Evaluator) RunOnce(ctx context.Context) {
	intents, err := e.store.PendingIntents(ctx)
	if err != nil {
		logger.Errorf("shadow: list pending intents failed: %v", err)
		return
	}
	now := e.nowFn().UTC()
	evaluated, deferred := 0, 0
	for _, intent := range intents {
		n, waiting := e.evaluateIntent(ctx, intent, now)
		evaluated += n
		if waiting {
			deferred++
		}
	}
	if evaluated > 0 || deferred > 0 {
		logger.Debugf("shadow: pass done, horizons_evaluated=%d intents_deferred=%d", evaluated, deferred)
	}
}

// evaluateIntent 依次处理该 intent 已到期的 horizon；价格不可用则整体顺延。
func (e *Evaluator) evaluateIntent(ctx context.Context, intent Intent, now time.Time) (evaluated int, deferred bool) {
	for _, horizon := range intent.DueHorizons(now) {
		done, err := e.store.HasOutcome(ctx, intent.IntentID, horizon)
		if err != nil {
			logger.Errorf("shadow: outcome lookup failed (%s/%dm): %v", intent.IntentID, horizon, err)
			return evaluated, true
		}
		if done {
			// 重放同一 horizon 不产生重复结果，只补齐标记。
			if err := e.store.MarkHorizonEvaluated(ctx, intent.IntentID, horizon); err != nil {
				logger.Errorf("shadow: mark horizon failed (%s/%dm): %v", intent.IntentID, horizon, err)
			}
			intent.EvaluatedMin = append(intent.EvaluatedMin, horizon)
			continue
		}

		until := intent.EntryTS.Add(time.Duration(horizon) * time.Minute)
		path, err := e.prices.PathSince(ctx, intent.Symbol, intent.EntryTS, until)
		if err != nil {
			if errors.Is(err, ErrPriceUnavailable) {
				logger.Debugf("shadow: price unavailable for %s, horizon %dm deferred", intent.Symbol, horizon)
			} else {
				logger.Errorf("shadow: price fetch failed for %s: %v", intent.Symbol, err)
			}
			// 数据缺失不伪造结果：留待下一轮。
			return evaluated, true
		}

		outcomes := evaluateHorizon(intent, horizon, path, e.grid)
		if err := e.store.AppendOutcomes(ctx, outcomes); err != nil {
			logger.Errorf("shadow: append outcomes failed (%s/%dm): %v", intent.IntentID, horizon, err)
			return evaluated, true
		}
		if err := e.store.MarkHorizonEvaluated(ctx, intent.IntentID, horizon); err != nil {
			logger.Errorf("shadow: mark horizon failed (%s/%dm): %v", intent.IntentID, horizon, err)
			return evaluated, true
		}
		intent.EvaluatedMin = append(intent.EvaluatedMin, horizon)
		evaluated++
		if e.hook != nil {
			e.hook(intent, outcomes)
		}
	}

	if intent.AllEvaluated() {
		if err := e.store.ArchiveIntent(ctx, intent.IntentID); err != nil {
			logger.Errorf("shadow: archive intent %s failed: %v", intent.IntentID, err)
		}
	}
	return evaluated, deferred
}
