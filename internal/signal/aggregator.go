package signal

import (
	"math"
	"sort"

	"arbiter/internal/pkg/convert"
	"arbiter/internal/types"
	"arbiter/internal/weights"
)

// normScale bounds the normalized score: tanh(raw/normScale) stays in (-1,1).
const normScale = 2.0

// ScoreComponent 记录单个分量对合成分数的贡献明细。
type ScoreComponent struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Layer        string  `json:"layer"`
	Coerced      bool    `json:"coerced,omitempty"`
}

// LayerSignal 是层视图里的一条信号。
type LayerSignal struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// OpposingSignal 记录与本轮整体方向相反的分量。
type OpposingSignal struct {
	Name      string  `json:"name"`
	Layer     string  `json:"layer"`
	Magnitude float64 `json:"magnitude"`
}

// Aggregation 是聚合器的完整输出，tracer 直接以它作为 trace 的第一层。
type Aggregation struct {
	RawScore            float64                   `json:"raw_score"`
	NormalizedScore     float64                   `json:"normalized_score"`
	Direction           string                    `json:"direction"`
	DirectionConfidence float64                   `json:"direction_confidence"`
	ScoreComponents     map[string]ScoreComponent `json:"score_components"`
	SignalLayers        map[string][]LayerSignal  `json:"signal_layers"`
	OpposingSignals     []OpposingSignal          `json:"opposing_signals"`
	EmptyInput          bool                      `json:"empty_input,omitempty"`
	CoercedInputs       []string                  `json:"coerced_inputs,omitempty"`
	WeightsVersion      int64                     `json:"weights_version"`
}

// Aggregator turns named component contributions into a composite score and a
// layered breakdown, applying the current weight bands.
type Aggregator struct {
	weights *weights.Store
}

func NewAggregator(ws *weights.Store) *Aggregator {
	return &Aggregator{weights: ws}
}

// Aggregate 计算合成分数。输入值允许是任意 JSON 形态：畸形值折算为 0 并记录，
// 从不报错；空输入返回 score=0 并打 empty_input 标记。
func (a *Aggregator) Aggregate(components map[string]any) Aggregation {
	agg := Aggregation{
		ScoreComponents: make(map[string]ScoreComponent, len(components)),
		SignalLayers:    make(map[string][]LayerSignal),
	}
	if a.weights != nil {
		agg.WeightsVersion = a.weights.Version()
	}
	if len(components) == 0 {
		agg.EmptyInput = true
		return agg
	}

	for rawName, rawValue := range components {
		name := CanonicalName(rawName)
		if name == "" {
			continue
		}
		value, ok := convert.ToFloat64OK(rawValue)
		weight := weights.NeutralWeight
		if a.weights != nil {
			weight = a.weights.WeightFor(name)
		}
		layer := ClassifyLayer(name, "")
		sc := ScoreComponent{
			Value:        value,
			Weight:       weight,
			Contribution: value * weight,
			Layer:        layer,
			Coerced:      !ok,
		}
		if !ok {
			agg.CoercedInputs = append(agg.CoercedInputs, name)
		}
		agg.ScoreComponents[name] = sc
		agg.RawScore += sc.Contribution
	}
	sort.Strings(agg.CoercedInputs)
	if len(agg.ScoreComponents) == 0 {
		agg.EmptyInput = true
		return agg
	}

	agg.NormalizedScore = math.Tanh(agg.RawScore / normScale)
	switch {
	case agg.RawScore > 0:
		agg.Direction = types.SideLong
	case agg.RawScore < 0:
		agg.Direction = types.SideShort
	}

	a.buildLayers(&agg)
	a.collectOpposing(&agg)
	agg.DirectionConfidence = directionConfidence(agg.ScoreComponents, agg.Direction)
	return agg
}

func (a *Aggregator) buildLayers(agg *Aggregation) {
	for name, sc := range agg.ScoreComponents {
		agg.SignalLayers[sc.Layer] = append(agg.SignalLayers[sc.Layer], LayerSignal{
			Name:         name,
			Contribution: sc.Contribution,
		})
	}
	for layer := range agg.SignalLayers {
		sigs := agg.SignalLayers[layer]
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	}
	a.ensureMultiLayer(agg)
}

// ensureMultiLayer 保证至少两个非空层：先把 other 桶提升为 context 层；仍不足
// 时（所有分量归于同一层）把贡献最小的信号挪入 context。
func (a *Aggregator) ensureMultiLayer(agg *Aggregation) {
	if nonEmptyLayers(agg.SignalLayers) >= 2 {
		return
	}
	if len(agg.SignalLayers) == 1 {
		for layer, sigs := range agg.SignalLayers {
			if len(sigs) < 2 {
				// 单一信号：补一个合成层条目，保持可解释性不变。
				agg.SignalLayers[LayerContext] = []LayerSignal{{
					Name:         "composite",
					Contribution: agg.RawScore,
				}}
				return
			}
			smallest := 0
			for i, sig := range sigs {
				if math.Abs(sig.Contribution) < math.Abs(sigs[smallest].Contribution) {
					smallest = i
				}
			}
			moved := sigs[smallest]
			agg.SignalLayers[layer] = append(sigs[:smallest:smallest], sigs[smallest+1:]...)
			agg.SignalLayers[LayerContext] = []LayerSignal{moved}
			if sc, ok := agg.ScoreComponents[moved.Name]; ok {
				sc.Layer = LayerContext
				agg.ScoreComponents[moved.Name] = sc
			}
			return
		}
	}
}

func (a *Aggregator) collectOpposing(agg *Aggregation) {
	if agg.Direction == "" {
		return
	}
	for name, sc := range agg.ScoreComponents {
		opposes := (agg.Direction == types.SideLong && sc.Contribution < 0) ||
			(agg.Direction == types.SideShort && sc.Contribution > 0)
		if !opposes {
			continue
		}
		agg.OpposingSignals = append(agg.OpposingSignals, OpposingSignal{
			Name:      name,
			Layer:     sc.Layer,
			Magnitude: math.Abs(sc.Contribution),
		})
	}
	sort.Slice(agg.OpposingSignals, func(i, j int) bool {
		if agg.OpposingSignals[i].Magnitude != agg.OpposingSignals[j].Magnitude {
			return agg.OpposingSignals[i].Magnitude > agg.OpposingSignals[j].Magnitude
		}
		return agg.OpposingSignals[i].Name < agg.OpposingSignals[j].Name
	})
}

func directionConfidence(components map[string]ScoreComponent, direction string) float64 {
	if direction == "" {
		return 0
	}
	var aligned, total float64
	for _, sc := range components {
		mag := math.Abs(sc.Contribution)
		total += mag
		if (direction == types.SideLong && sc.Contribution > 0) ||
			(direction == types.SideShort && sc.Contribution < 0) {
			aligned += mag
		}
	}
	if total == 0 {
		return 0
	}
	return aligned / total
}

func nonEmptyLayers(layers map[string][]LayerSignal) int {
	n := 0
	for _, sigs := range layers {
		if len(sigs) > 0 {
			n++
		}
	}
	return n
}
