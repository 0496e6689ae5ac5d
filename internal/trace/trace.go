// Package trace assembles and validates the per-decision explainability
// record. A finalized trace is append-only: nothing mutates it afterwards.
package trace

import (
	"fmt"
	"time"

	"arbiter/internal/gate"
	"arbiter/internal/signal"
	"arbiter/internal/types"

	"github.com/google/uuid"
)

// AggregationSummary 是聚合结果进 trace 的投影。
type AggregationSummary struct {
	RawScore            float64                          `json:"raw_score"`
	NormalizedScore     float64                          `json:"normalized_score"`
	DirectionConfidence float64                          `json:"direction_confidence"`
	ScoreComponents     map[string]signal.ScoreComponent `json:"score_components"`
	WeightsVersion      int64                            `json:"weights_version"`
	CoercedInputs       []string                         `json:"coerced_inputs,omitempty"`
}

// FinalDecision 是 pipeline 的最终裁决在 trace 中的形态。
type FinalDecision struct {
	Outcome          string   `json:"outcome"`
	PrimaryReason    string   `json:"primary_reason"`
	SecondaryReasons []string `json:"secondary_reasons,omitempty"`
}

// Trace 即 DecisionIntelligenceTrace：一轮内单个标的的完整决策链路。
type Trace struct {
	SchemaVersion   int                              `json:"schema_version"`
	IntentID        string                           `json:"intent_id"`
	Symbol          string                           `json:"symbol"`
	Side            string                           `json:"side"`
	Timestamp       time.Time                        `json:"ts"`
	SignalLayers    map[string][]signal.LayerSignal  `json:"signal_layers"`
	OpposingSignals []signal.OpposingSignal          `json:"opposing_signals,omitempty"`
	Aggregation     AggregationSummary               `json:"aggregation"`
	Gates           map[string]gate.Result           `json:"gates"`
	FinalDecision   *FinalDecision                   `json:"final_decision,omitempty"`
	Invalid         bool                             `json:"invalid,omitempty"`
	InvalidReason   string                           `json:"invalid_reason,omitempty"`

	finalized bool
}

// New 从聚合结果创建 trace。每个标的每轮只创建一次。
func New(symbol, side string, now time.Time, agg signal.Aggregation) *Trace {
	return &Trace{
		SchemaVersion: types.SchemaVersion,
		IntentID:      uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Timestamp:     now,
		SignalLayers:  agg.SignalLayers,
		OpposingSignals: agg.OpposingSignals,
		Aggregation: AggregationSummary{
			RawScore:            agg.RawScore,
			NormalizedScore:     agg.NormalizedScore,
			DirectionConfidence: agg.DirectionConfidence,
			ScoreComponents:     agg.ScoreComponents,
			WeightsVersion:      agg.WeightsVersion,
			CoercedInputs:       agg.CoercedInputs,
		},
		Gates: make(map[string]gate.Result),
	}
}

// AddGateResult 追加一条 gate 裁决。已存在的键不覆盖，而是带序号另存，
// 保证 trace 只增不改。
func (t *Trace) AddGateResult(res gate.Result) error {
	if t.finalized {
		return fmt.Errorf("trace %s already finalized", t.IntentID)
	}
	key := res.Gate
	for i := 2; ; i++ {
		if _, exists := t.Gates[key]; !exists {
			break
		}
		key = fmt.Sprintf("%s#%d", res.Gate, i)
	}
	t.Gates[key] = res
	return nil
}

// Finalize 写入最终裁决并封存 trace。只能调用一次。
func (t *Trace) Finalize(d gate.Decision) error {
	if t.finalized {
		return fmt.Errorf("trace %s already finalized", t.IntentID)
	}
	secondary := make([]string, 0, len(d.SecondaryReasons))
	for _, r := range d.SecondaryReasons {
		secondary = append(secondary, string(r))
	}
	t.FinalDecision = &FinalDecision{
		Outcome:          d.Outcome,
		PrimaryReason:    string(d.PrimaryReason),
		SecondaryReasons: secondary,
	}
	t.finalized = true
	return nil
}

// Finalized reports whether the trace has been sealed.
func (t *Trace) Finalized() bool { return t.finalized }
