// Package shadow answers "what would have happened" for every blocked and
// taken decision by replaying realized price paths against a grid of exit
// policies. It never touches live execution.
package shadow

import (
	"context"
	"errors"
	"sort"
	"time"

	"arbiter/internal/types"
)

const (
	KindBlocked = "blocked"
	KindTaken   = "taken"

	// VariantEnd 是不挂 TP/SL、持有到 horizon 结束的基准出场。
	VariantEnd = "end"
)

// ErrPriceUnavailable 表示行情源暂时拿不到价格路径；对应 horizon 留待下一轮，
// 绝不伪造结果。
var ErrPriceUnavailable = errors.New("price path unavailable")

// Intent 是一笔假想仓位的簿记，生命周期完全由评估器持有：
// 入队创建 → 按 horizon 逐个评估 → 全部完成后归档删除。
type Intent struct {
	SchemaVersion int       `json:"schema_version"`
	IntentID      string    `json:"intent_id"`
	Symbol        string    `json:"symbol"`
	EntryTS       time.Time `json:"entry_ts"`
	EntryPrice    float64   `json:"entry_price"`
	Direction     string    `json:"direction"`
	Kind          string    `json:"kind"`
	HorizonsMin   []int     `json:"horizons"`
	EvaluatedMin  []int     `json:"evaluated"`
	Components    []string  `json:"components,omitempty"`
}

// DueHorizons 返回已到期但尚未评估的 horizon，升序。
func (i Intent) DueHorizons(now time.Time) []int {
	done := make(map[int]bool, len(i.EvaluatedMin))
	for _, h := range i.EvaluatedMin {
		done[h] = true
	}
	var due []int
	for _, h := range i.HorizonsMin {
		if done[h] {
			continue
		}
		if !now.Before(i.EntryTS.Add(time.Duration(h) * time.Minute)) {
			due = append(due, h)
		}
	}
	sort.Ints(due)
	return due
}

// AllEvaluated reports whether every horizon has an outcome.
func (i Intent) AllEvaluated() bool {
	done := make(map[int]bool, len(i.EvaluatedMin))
	for _, h := range i.EvaluatedMin {
		done[h] = true
	}
	for _, h := range i.HorizonsMin {
		if !done[h] {
			return false
		}
	}
	return true
}

// Outcome 是一条反事实结果，追加写入且从不改写。
type Outcome struct {
	SchemaVersion int     `json:"schema_version"`
	IntentID      string  `json:"intent_id"`
	Symbol        string  `json:"symbol"`
	Kind          string  `json:"kind"`
	HorizonMin    int     `json:"horizon_min"`
	EntryPrice    float64 `json:"entry_price"`
	EndPrice      float64 `json:"end_price"`
	ReturnPct     float64 `json:"return_pct"`
	Variant       string  `json:"variant"`
	HitTP         bool    `json:"hit_tp"`
	HitSL         bool    `json:"hit_sl"`
	Ambiguous     bool    `json:"ambiguous"`
}

// PricePath 是 entry 到 horizon 之间的聚合价格路径（只有 high/low，没有逐笔
// 顺序，因此 TP/SL 同窗命中无法分辨先后）。
type PricePath struct {
	Start float64
	High  float64
	Low   float64
	End   float64
}

// PriceSource 由外部行情协作方实现。
type PriceSource interface {
	PathSince(ctx context.Context, symbol string, from, until time.Time) (PricePath, error)
}

// NewIntentFromBlocked 由拦截记录构造 intent。
func NewIntentFromBlocked(intentID string, rec types.BlockedTradeRecord, entryPrice float64, horizons []int, components []string) Intent {
	return Intent{
		SchemaVersion: types.SchemaVersion,
		IntentID:      intentID,
		Symbol:        rec.Symbol,
		EntryTS:       rec.Timestamp,
		EntryPrice:    entryPrice,
		Direction:     rec.Direction,
		Kind:          KindBlocked,
		HorizonsMin:   append([]int(nil), horizons...),
		Components:    append([]string(nil), components...),
	}
}
