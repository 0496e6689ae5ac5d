package gate

import (
	"time"

	"arbiter/internal/pkg/decimalx"
)

// displacementGate 在容量满时仲裁“换仓”：候选必须比最弱持仓强出 dominance
// delta，且最弱持仓已持有满最短时长。最短时长不足永远优先于分差拦截。
type displacementGate struct{}

func (displacementGate) Name() string { return "displacement_gate" }

func (displacementGate) Evaluate(ctx *Context) Result {
	if !ctx.capacityFull {
		return pass("displacement_gate", map[string]any{"skipped": true})
	}
	if !ctx.Cfg.Displacement.Enabled {
		return block("displacement_gate", ReasonDisplacementBlocked, nil)
	}

	incumbent, ok := ctx.Book.Weakest()
	if !ok {
		// 容量满却找不到可比较的持仓，保守拦截。
		return block("displacement_gate", ReasonCapacityFull, nil)
	}

	details := map[string]any{
		"incumbent":       incumbent.Symbol,
		"incumbent_score": incumbent.Score,
		"candidate_score": ctx.Candidate.Score,
	}

	minHold := time.Duration(ctx.Cfg.Displacement.MinHoldSeconds) * time.Second
	held := incumbent.HeldFor(ctx.Now)
	details["held"] = describeHold(held)
	details["min_hold"] = describeHold(minHold)
	if held < minHold {
		// 无论分差多大，持有时长不足一律 min_hold 拦截。
		return block("displacement_gate", ReasonDisplacementMinHold, details)
	}

	delta := ctx.Candidate.Score - incumbent.Score
	details["delta"] = delta
	details["dominance_delta"] = ctx.Cfg.Displacement.DominanceDelta
	if decimalx.LT(delta, ctx.Cfg.Displacement.DominanceDelta) {
		return block("displacement_gate", ReasonDisplacementNoDominance, details)
	}

	if incumbent.Symbol == ctx.Candidate.Symbol {
		// 换掉自己没有意义；视为换仓方案不可构造。
		return block("displacement_gate", ReasonDisplacementFailed, details)
	}

	evicted := incumbent
	ctx.Eviction = &evicted
	details["evicting"] = incumbent.Symbol
	return pass("displacement_gate", details)
}
