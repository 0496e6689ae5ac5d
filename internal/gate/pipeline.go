package gate

import (
	"arbiter/internal/logger"
	"arbiter/internal/types"
)

// BlockedSink 接收拦截记录（写后不可变），shadow 评估器与审计工具消费。
type BlockedSink func(types.BlockedTradeRecord)

// Pipeline 以固定顺序执行 gate：score → capacity → risk → displacement →
// directional。第一个拦截即终止，后续 gate 不再执行。
type Pipeline struct {
	gates   []Gate
	blocked BlockedSink
}

func NewPipeline(blocked BlockedSink) *Pipeline {
	return &Pipeline{
		gates: []Gate{
			scoreGate{},
			capacityGate{},
			riskGate{},
			displacementGate{},
			directionalGate{},
		},
		blocked: blocked,
	}
}

// Run 裁决一个候选。gate 内部异常遵循 fail-safe：宁拦截不误放。
func (p *Pipeline) Run(ctx *Context) Decision {
	decision := Decision{Outcome: OutcomeEntered, PrimaryReason: ReasonAllPassed}
	for _, g := range p.gates {
		res := p.evaluate(g, ctx)
		decision.Results = append(decision.Results, res)
		if res.Passed {
			continue
		}
		decision.Outcome = OutcomeBlocked
		decision.PrimaryReason = res.Reason
		decision.SecondaryReasons = secondaryReasons(res)
		p.emitBlocked(ctx, res.Reason)
		break
	}
	if !decision.Blocked() {
		decision.Eviction = ctx.Eviction
	}
	return decision
}

// evaluate 包住单个 gate 的执行：panic 转为保守拦截而不是放行。
func (p *Pipeline) evaluate(g Gate, ctx *Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("gate %s panic, fail-safe block: %v", g.Name(), r)
			res = block(g.Name(), ReasonOther, map[string]any{"panic": true})
		}
	}()
	return g.Evaluate(ctx)
}

func (p *Pipeline) emitBlocked(ctx *Context, reason Reason) {
	if p.blocked == nil {
		return
	}
	p.blocked(types.BlockedTradeRecord{
		SchemaVersion: types.SchemaVersion,
		Timestamp:     ctx.Now,
		Symbol:        ctx.Candidate.Symbol,
		Reason:        string(reason),
		Score:         ctx.Candidate.Score,
		Direction:     ctx.Candidate.Side,
	})
}

func secondaryReasons(res Result) []Reason {
	raw, ok := res.Details["secondary_reasons"]
	if !ok {
		return nil
	}
	list, ok := raw.([]string)
	if !ok {
		return nil
	}
	out := make([]Reason, 0, len(list))
	for _, s := range list {
		out = append(out, Reason(s))
	}
	return out
}
