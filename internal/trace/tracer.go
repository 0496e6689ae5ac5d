package trace

import (
	"encoding/json"
	"fmt"

	"arbiter/internal/gate"
)

// Validator 在落盘前校验 trace 不变量。校验失败是运维错误：trace 被标记
// invalid 后照常下发（决策本身不回滚），绝不静默丢弃。
type Validator struct {
	MaxBytes int
}

func NewValidator(maxBytes int) *Validator {
	return &Validator{MaxBytes: maxBytes}
}

// Validate 检查：已封存、体积上限、≥2 个非空信号层、outcome 合法、
// blocked 必须带 primary_reason。失败时在 trace 上标记 invalid 并返回原因。
func (v *Validator) Validate(t *Trace) error {
	if t == nil {
		return fmt.Errorf("nil trace")
	}
	if err := v.check(t); err != nil {
		t.Invalid = true
		t.InvalidReason = err.Error()
		return err
	}
	return nil
}

func (v *Validator) check(t *Trace) error {
	if !t.finalized || t.FinalDecision == nil {
		return fmt.Errorf("trace not finalized")
	}

	nonEmpty := 0
	for _, sigs := range t.SignalLayers {
		if len(sigs) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return fmt.Errorf("trace requires >=2 non-empty signal layers, got %d", nonEmpty)
	}

	switch t.FinalDecision.Outcome {
	case gate.OutcomeEntered, gate.OutcomeBlocked:
	default:
		return fmt.Errorf("invalid outcome %q", t.FinalDecision.Outcome)
	}
	if t.FinalDecision.Outcome == gate.OutcomeBlocked && t.FinalDecision.PrimaryReason == "" {
		return fmt.Errorf("blocked outcome requires primary_reason")
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("trace not serializable: %w", err)
	}
	if v.MaxBytes > 0 && len(raw) > v.MaxBytes {
		return fmt.Errorf("trace size %d exceeds cap %d", len(raw), v.MaxBytes)
	}
	return nil
}
