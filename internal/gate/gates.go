package gate

import (
	"time"

	"arbiter/internal/pkg/decimalx"
	"arbiter/internal/signal"
	"arbiter/internal/types"
)

// scoreGate 拦掉合成分数不达门槛的候选。
type scoreGate struct{}

func (scoreGate) Name() string { return "score_gate" }

func (scoreGate) Evaluate(ctx *Context) Result {
	min := ctx.Cfg.ScoreMin
	score := ctx.Candidate.Score
	details := map[string]any{"score": score, "min": min}
	if decimalx.LT(score, min) {
		return block("score_gate", ReasonScoreBelowMin, details)
	}
	return pass("score_gate", details)
}

// capacityGate 检查持仓容量。容量满时若允许 displacement 则放行，交由
// displacement gate 仲裁；否则直接以 max_positions_reached 拦截。
type capacityGate struct{}

func (capacityGate) Name() string { return "capacity_gate" }

func (capacityGate) Evaluate(ctx *Context) Result {
	held := ctx.Book.Count()
	max := ctx.Cfg.MaxPositions
	details := map[string]any{"held": held, "max": max}
	if held < max {
		return pass("capacity_gate", details)
	}
	if !ctx.Cfg.Displacement.Enabled {
		return block("capacity_gate", ReasonMaxPositions, details)
	}
	ctx.capacityFull = true
	details["capacity_full"] = true
	return pass("capacity_gate", details)
}

// riskGate 按固定顺序检查风险约束，第一条违例即为 primary reason，
// 其余违例进入 details.secondary_reasons 供 trace 汇总。
type riskGate struct{}

func (riskGate) Name() string { return "risk_gate" }

func (riskGate) Evaluate(ctx *Context) Result {
	violations := riskViolations(ctx)
	if len(violations) == 0 {
		return pass("risk_gate", nil)
	}
	details := map[string]any{}
	if len(violations) > 1 {
		secondary := make([]string, 0, len(violations)-1)
		for _, v := range violations[1:] {
			secondary = append(secondary, string(v))
		}
		details["secondary_reasons"] = secondary
	}
	return block("risk_gate", violations[0], details)
}

func riskViolations(ctx *Context) []Reason {
	var out []Reason
	c := ctx.Candidate

	if ctx.Cfg.MarketSessionCheck && ctx.MarketOpen != nil && !ctx.MarketOpen(ctx.Now) {
		out = append(out, ReasonMarketClosed)
	}
	if ctx.Cfg.LongOnly && c.Side == types.SideShort {
		out = append(out, ReasonLongOnlyShort)
	}
	if ctx.Breaker != nil && !ctx.Breaker.Allow() {
		// 熔断打开：绩效退化已触发 regime 级别的入场停摆。
		out = append(out, ReasonRegimeBlocked)
	}
	if last, ok := ctx.Cooldowns[c.Symbol]; ok && ctx.Cfg.CooldownSeconds > 0 {
		cooldown := time.Duration(ctx.Cfg.CooldownSeconds) * time.Second
		if ctx.Now.Sub(last) < cooldown {
			out = append(out, ReasonSymbolCooldown)
		}
	}
	if ctx.Cfg.MaxPerSymbol > 0 {
		held := 0
		for _, p := range ctx.Book.Positions {
			if p.Symbol == c.Symbol {
				held++
			}
		}
		if held >= ctx.Cfg.MaxPerSymbol {
			out = append(out, ReasonSymbolExposure)
		}
	}
	if ctx.Cfg.MaxPerSector > 0 && c.Sector != "" &&
		ctx.Book.SectorCount(c.Sector) >= ctx.Cfg.MaxPerSector {
		out = append(out, ReasonSectorExposure)
	}
	if ctx.Cfg.MaxConcentration > 0 {
		if frac, ok := concentrationAfterEntry(ctx); ok && decimalx.GT(frac, ctx.Cfg.MaxConcentration) {
			out = append(out, ReasonConcentration)
		}
	}
	if ctx.Cfg.MaxThemeExposure > 0 && c.Theme != "" {
		themed := 0
		for _, p := range ctx.Book.Positions {
			if p.Sector == c.Theme || p.Symbol == c.Theme {
				themed++
			}
		}
		if themed >= ctx.Cfg.MaxThemeExposure {
			out = append(out, ReasonThemeExposure)
		}
	}
	return out
}

// concentrationAfterEntry 估算入场后该标的占组合名义敞口的比例。
func concentrationAfterEntry(ctx *Context) (float64, bool) {
	entry := ctx.Candidate.Price
	if entry <= 0 {
		return 0, false
	}
	var total, symbolNotional float64
	for _, p := range ctx.Book.Positions {
		n := p.Notional
		if n <= 0 {
			n = p.EntryPrice * p.Quantity
		}
		total += n
		if p.Symbol == ctx.Candidate.Symbol {
			symbolNotional += n
		}
	}
	// 候选仓位按已有持仓的平均名义值估算。
	avg := entry
	if ctx.Book.Count() > 0 && total > 0 {
		avg = total / float64(ctx.Book.Count())
	}
	total += avg
	symbolNotional += avg
	if total <= 0 {
		return 0, false
	}
	return symbolNotional / total, true
}

// directionalGate 检查方向一致性：反向信号占优、高波动且方向置信不足、
// momentum-ignition 尖峰均拦截。
type directionalGate struct{}

func (directionalGate) Name() string { return "directional_gate" }

func (directionalGate) Evaluate(ctx *Context) Result {
	agg := ctx.Candidate.Agg
	details := map[string]any{
		"direction":  agg.Direction,
		"confidence": agg.DirectionConfidence,
	}

	if net := ctx.Book.NetDirection(); net != "" && ctx.Candidate.Side != "" && net != ctx.Candidate.Side {
		if decimalx.LT(agg.DirectionConfidence, ctx.Cfg.Directional.MinConfidence) {
			details["book_direction"] = net
			return block("directional_gate", ReasonDirectionalConflict, details)
		}
	}

	if vol, ok := volatilityMagnitude(agg); ok {
		details["volatility"] = vol
		if decimalx.GTE(vol, ctx.Cfg.Directional.HighVolThreshold) &&
			decimalx.LT(agg.DirectionConfidence, ctx.Cfg.Directional.MinConfidence) {
			return block("directional_gate", ReasonHighVolNoAlignment, details)
		}
	}

	if z := ctx.Cfg.Directional.IgnitionZScore; z > 0 {
		if mom, ok := agg.ScoreComponents["momentum_ignition"]; ok && decimalx.GTE(mom.Value, z) {
			details["momentum_ignition"] = mom.Value
			return block("directional_gate", ReasonMomentumIgnition, details)
		}
	}
	return pass("directional_gate", details)
}

// volatilityMagnitude 汇总 volatility 层的信号强度。
func volatilityMagnitude(agg signal.Aggregation) (float64, bool) {
	sigs, ok := agg.SignalLayers[signal.LayerVolatility]
	if !ok || len(sigs) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range sigs {
		if s.Contribution > 0 {
			sum += s.Contribution
		} else {
			sum -= s.Contribution
		}
	}
	return sum, true
}

func describeHold(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
