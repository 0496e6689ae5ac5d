// Package gate implements the ordered arbitration stages that turn a scored
// candidate into an enter/block decision. Stage order is fixed; the first
// blocking stage is terminal.
package gate

import (
	"time"

	"arbiter/internal/config"
	"arbiter/internal/pkg/circuit"
	"arbiter/internal/signal"
	"arbiter/internal/types"
)

// Reason 是封闭的拦截原因集合，trace 与下游审计工具直接消费这些字符串。
type Reason string

const (
	ReasonCapacityFull            Reason = "capacity_full"
	ReasonDisplacementMinHold     Reason = "displacement_min_hold"
	ReasonDisplacementNoDominance Reason = "displacement_no_dominance"
	ReasonDisplacementBlocked     Reason = "displacement_blocked"
	ReasonDisplacementFailed      Reason = "displacement_failed"
	ReasonDirectionalConflict     Reason = "directional_conflict"
	ReasonHighVolNoAlignment      Reason = "blocked_high_vol_no_alignment"
	ReasonRiskExceeded            Reason = "risk_exceeded"
	ReasonSymbolExposure          Reason = "symbol_exposure_limit"
	ReasonSectorExposure          Reason = "sector_exposure_limit"
	ReasonScoreBelowMin           Reason = "score_below_min"
	ReasonMaxPositions            Reason = "max_positions_reached"
	ReasonSymbolCooldown          Reason = "symbol_on_cooldown"
	ReasonMomentumIgnition        Reason = "momentum_ignition_filter"
	ReasonMarketClosed            Reason = "market_closed"
	ReasonLongOnlyShort           Reason = "long_only_blocked_short_entry"
	ReasonRegimeBlocked           Reason = "regime_blocked"
	ReasonConcentration           Reason = "concentration_gate"
	ReasonThemeExposure           Reason = "theme_exposure_blocked"
	ReasonOther                   Reason = "other"

	// ReasonAllPassed 仅用于 entered 决策的 primary_reason。
	ReasonAllPassed Reason = "all_gates_passed"
)

const (
	OutcomeEntered = "entered"
	OutcomeBlocked = "blocked"
)

// Candidate 是本轮待仲裁的候选入场。
type Candidate struct {
	Symbol string
	Side   string
	Score  float64
	Price  float64
	Sector string
	Theme  string
	Agg    signal.Aggregation
}

// Result 是单个 gate 的裁决，追加进 trace，从不回写。
type Result struct {
	Gate    string         `json:"gate"`
	Passed  bool           `json:"passed"`
	Reason  Reason         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Context 在一次 pipeline 运行内共享：所有 gate 看到同一份持仓快照。
type Context struct {
	Now       time.Time
	Candidate Candidate
	Book      types.PositionBook
	Cfg       config.GatesConfig
	Breaker   *circuit.Breaker
	// Cooldowns: symbol -> 最近一次平仓/开仓时间。
	Cooldowns map[string]time.Time
	// MarketOpen 为 nil 时视为始终开市（外部执行端自行兜底）。
	MarketOpen func(time.Time) bool

	// Eviction 由 displacement gate 在放行时填充：被换出的弱势持仓。
	Eviction *types.PositionSnapshot

	capacityFull bool
}

// Gate 是单个仲裁阶段。
type Gate interface {
	Name() string
	Evaluate(ctx *Context) Result
}

// Decision 是 pipeline 的最终裁决。
type Decision struct {
	Outcome          string
	PrimaryReason    Reason
	SecondaryReasons []Reason
	Results          []Result
	Eviction         *types.PositionSnapshot
}

func (d Decision) Blocked() bool { return d.Outcome == OutcomeBlocked }

func pass(name string, details map[string]any) Result {
	return Result{Gate: name, Passed: true, Details: details}
}

func block(name string, reason Reason, details map[string]any) Result {
	return Result{Gate: name, Passed: false, Reason: reason, Details: details}
}
