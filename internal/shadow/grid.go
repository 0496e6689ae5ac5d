package shadow

import (
	"strconv"

	"arbiter/internal/pkg/decimalx"
	"arbiter/internal/types"
)

// GridConfig 是 TP × SL 出场网格（小数比例，0.02 = 2%）。
type GridConfig struct {
	TakeProfits []float64
	StopLosses  []float64
}

// evaluateHorizon 对单个 horizon 产出全部结果：一条基准持有结果 + 每个网格
// 单元一条（TP/SL 同窗命中时为两条：best/worst，ambiguous=true）。
func evaluateHorizon(intent Intent, horizonMin int, path PricePath, grid GridConfig) []Outcome {
	base := Outcome{
		SchemaVersion: types.SchemaVersion,
		IntentID:      intent.IntentID,
		Symbol:        intent.Symbol,
		Kind:          intent.Kind,
		HorizonMin:    horizonMin,
		EntryPrice:    intent.EntryPrice,
		EndPrice:      path.End,
	}

	holdReturn := directionalReturn(intent.EntryPrice, path.End, intent.Direction)

	outcomes := make([]Outcome, 0, 1+len(grid.TakeProfits)*len(grid.StopLosses))
	baseline := base
	baseline.Variant = VariantEnd
	baseline.ReturnPct = holdReturn
	outcomes = append(outcomes, baseline)

	for _, tp := range grid.TakeProfits {
		for _, sl := range grid.StopLosses {
			outcomes = append(outcomes, gridCell(base, intent, path, tp, sl, holdReturn)...)
		}
	}
	return outcomes
}

// gridCell 用聚合 high/low 推断单个 TP/SL 组合的结局。只有 high/low、没有
// 逐笔顺序时，双命中是真不可知：同时发 best 与 worst 两条而不是瞎猜一条。
func gridCell(base Outcome, intent Intent, path PricePath, tp, sl, holdReturn float64) []Outcome {
	dir := intent.Direction
	tpPrice := decimalx.RelativeTarget(intent.EntryPrice, tp, dir)
	slPrice := decimalx.AdverseTarget(intent.EntryPrice, sl, dir)

	var hitTP, hitSL bool
	switch dir {
	case types.SideShort:
		hitTP = decimalx.LTE(path.Low, tpPrice)
		hitSL = decimalx.GTE(path.High, slPrice)
	default:
		hitTP = decimalx.GTE(path.High, tpPrice)
		hitSL = decimalx.LTE(path.Low, slPrice)
	}

	cell := base
	cell.HitTP = hitTP
	cell.HitSL = hitSL
	name := gridVariant(tp, sl)

	switch {
	case hitTP && hitSL:
		best := cell
		best.Variant = name + "_best"
		best.ReturnPct = tp
		best.Ambiguous = true
		worst := cell
		worst.Variant = name + "_worst"
		worst.ReturnPct = -sl
		worst.Ambiguous = true
		return []Outcome{best, worst}
	case hitTP:
		cell.Variant = name
		cell.ReturnPct = tp
		return []Outcome{cell}
	case hitSL:
		cell.Variant = name
		cell.ReturnPct = -sl
		return []Outcome{cell}
	default:
		cell.Variant = name
		cell.ReturnPct = holdReturn
		return []Outcome{cell}
	}
}

func gridVariant(tp, sl float64) string {
	return "tp" + trimPct(tp) + "_sl" + trimPct(sl)
}

func trimPct(frac float64) string {
	return strconv.FormatFloat(frac*100, 'f', -1, 64)
}

// directionalReturn 是持有收益率，short 取反。entry<=0 时返回 0。
func directionalReturn(entry, exit float64, direction string) float64 {
	if entry <= 0 {
		return 0
	}
	raw := (exit - entry) / entry
	if direction == types.SideShort {
		return -raw
	}
	return raw
}
