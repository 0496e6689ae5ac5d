package config

import "fmt"

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Gates.validate(); err != nil {
		return err
	}
	if err := c.Learner.validate(); err != nil {
		return err
	}
	if err := c.Shadow.validate(); err != nil {
		return err
	}
	if err := c.Trace.validate(); err != nil {
		return err
	}
	return nil
}

func (g *GatesConfig) validate() error {
	if g.MaxPositions <= 0 {
		return fmt.Errorf("gates.max_positions must be > 0")
	}
	if g.Displacement.MinHoldSeconds < 0 {
		return fmt.Errorf("gates.displacement.min_hold_seconds must be >= 0")
	}
	if g.Displacement.DominanceDelta < 0 {
		return fmt.Errorf("gates.displacement.dominance_delta must be >= 0")
	}
	if g.Directional.MinConfidence < 0 || g.Directional.MinConfidence > 1 {
		return fmt.Errorf("gates.directional.min_confidence must be in [0,1]")
	}
	return nil
}

func (l *LearnerConfig) validate() error {
	if l.MinSamples < 2 {
		return fmt.Errorf("learner.min_samples must be >= 2")
	}
	if l.ConfidenceZ <= 0 {
		return fmt.Errorf("learner.confidence_z must be > 0")
	}
	if l.StepFrac <= 0 || l.StepFrac >= 1 {
		return fmt.Errorf("learner.step_frac must be in (0,1)")
	}
	if l.MaxDriftFrac <= 0 || l.MaxDriftFrac >= 1 {
		return fmt.Errorf("learner.max_drift_frac must be in (0,1)")
	}
	return nil
}

func (s *ShadowConfig) validate() error {
	for _, h := range s.HorizonsMin {
		if h <= 0 {
			return fmt.Errorf("shadow.horizons_min entries must be > 0")
		}
	}
	for _, tp := range s.TakeProfits {
		if tp <= 0 {
			return fmt.Errorf("shadow.take_profits entries must be > 0")
		}
	}
	for _, sl := range s.StopLosses {
		if sl <= 0 {
			return fmt.Errorf("shadow.stop_losses entries must be > 0")
		}
	}
	return nil
}

func (t *TraceConfig) validate() error {
	if t.MaxTraceBytes <= 0 {
		return fmt.Errorf("trace.max_trace_bytes must be > 0")
	}
	return nil
}
