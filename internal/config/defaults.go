package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9982"
	defaultAppLogPath       = "/data/logs/arbiter.log"
	defaultCycleInterval    = "1m"
	defaultCycleWorkers     = 4
	defaultSignalsPath      = "/data/live/signals.json"
	defaultPositionsPath    = "/data/live/positions.json"
	defaultOutcomesPath     = "/data/live/outcomes.jsonl"
	defaultTraceLogPath     = "/data/live/traces.jsonl"
	defaultTraceDBPath      = "/data/live/traces.db"
	defaultTraceMaxBytes    = 65536
	defaultScoreMin         = 0.5
	defaultMaxPositions     = 8
	defaultCooldownSeconds  = 180
	defaultMaxPerSymbol     = 1
	defaultMaxPerSector     = 3
	defaultMaxConcentration = 0.35
	defaultMaxThemeExposure = 4
	defaultMinHoldSeconds   = 900
	defaultDominanceDelta   = 0.75
	defaultMinConfidence    = 0.25
	defaultHighVol          = 1.5
	defaultIgnitionZ        = 3.0
	defaultLearnerInterval  = "5m"
	defaultMinSamples       = 30
	defaultConfidenceZ      = 1.96
	defaultStepFrac         = 0.05
	defaultMaxDriftFrac     = 0.4
	defaultMarginOfError    = 0.18
	defaultShadowDBPath     = "/data/live/shadow.db"
	defaultShadowInterval   = "30s"
	defaultHealthInterval   = "15s"
	defaultStaleDataSec     = 120
	defaultMinTradesHour    = 0.5
	defaultSMAPeriod        = 10
	defaultDegradation      = -0.02
	defaultBreakerThreshold = 3
	defaultBreakerTimeout   = 600
	defaultMaxTaskRestarts  = 5
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Feeds.applyDefaults(keys)
	c.Trace.applyDefaults(keys)
	c.Gates.applyDefaults(keys)
	c.Learner.applyDefaults(keys)
	c.Shadow.applyDefaults(keys)
	c.Health.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.cycle_interval", &a.CycleInterval, defaultCycleInterval),
		intFieldDefault("app.cycle_workers", &a.CycleWorkers, defaultCycleWorkers),
	)
}

func (f *FeedsConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feeds.signals_path", &f.SignalsPath, defaultSignalsPath),
		stringFieldDefault("feeds.positions_path", &f.PositionsPath, defaultPositionsPath),
		stringFieldDefault("feeds.outcomes_path", &f.OutcomesPath, defaultOutcomesPath),
	)
}

func (t *TraceConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trace.log_path", &t.LogPath, defaultTraceLogPath),
		stringFieldDefault("trace.db_path", &t.DBPath, defaultTraceDBPath),
		intFieldDefault("trace.max_trace_bytes", &t.MaxTraceBytes, defaultTraceMaxBytes),
	)
}

func (g *GatesConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("gates.score_min", &g.ScoreMin, defaultScoreMin),
		intFieldDefault("gates.max_positions", &g.MaxPositions, defaultMaxPositions),
		intFieldDefault("gates.cooldown_seconds", &g.CooldownSeconds, defaultCooldownSeconds),
		intFieldDefault("gates.max_per_symbol", &g.MaxPerSymbol, defaultMaxPerSymbol),
		intFieldDefault("gates.max_per_sector", &g.MaxPerSector, defaultMaxPerSector),
		floatFieldDefault("gates.max_concentration", &g.MaxConcentration, defaultMaxConcentration),
		intFieldDefault("gates.max_theme_exposure", &g.MaxThemeExposure, defaultMaxThemeExposure),
		intFieldDefault("gates.displacement.min_hold_seconds", &g.Displacement.MinHoldSeconds, defaultMinHoldSeconds),
		floatFieldDefault("gates.displacement.dominance_delta", &g.Displacement.DominanceDelta, defaultDominanceDelta),
		floatFieldDefault("gates.directional.min_confidence", &g.Directional.MinConfidence, defaultMinConfidence),
		floatFieldDefault("gates.directional.high_vol_threshold", &g.Directional.HighVolThreshold, defaultHighVol),
		floatFieldDefault("gates.directional.ignition_zscore", &g.Directional.IgnitionZScore, defaultIgnitionZ),
	)
	if !keys.isSet("gates.displacement.enabled") {
		g.Displacement.Enabled = true
	}
}

func (l *LearnerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("learner.interval", &l.Interval, defaultLearnerInterval),
		intFieldDefault("learner.min_samples", &l.MinSamples, defaultMinSamples),
		floatFieldDefault("learner.confidence_z", &l.ConfidenceZ, defaultConfidenceZ),
		floatFieldDefault("learner.step_frac", &l.StepFrac, defaultStepFrac),
		floatFieldDefault("learner.max_drift_frac", &l.MaxDriftFrac, defaultMaxDriftFrac),
		floatFieldDefault("learner.margin_of_error", &l.MarginOfError, defaultMarginOfError),
	)
}

func (s *ShadowConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("shadow.db_path", &s.DBPath, defaultShadowDBPath),
		stringFieldDefault("shadow.interval", &s.Interval, defaultShadowInterval),
	)
	if len(s.HorizonsMin) == 0 {
		s.HorizonsMin = []int{30, 120, 390}
	}
	if len(s.TakeProfits) == 0 {
		s.TakeProfits = []float64{0.02, 0.04}
	}
	if len(s.StopLosses) == 0 {
		s.StopLosses = []float64{0.01, 0.02}
	}
}

func (h *HealthConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("health.interval", &h.Interval, defaultHealthInterval),
		intFieldDefault("health.stale_data_seconds", &h.StaleDataSeconds, defaultStaleDataSec),
		floatFieldDefault("health.min_trades_per_hour", &h.MinTradesPerHour, defaultMinTradesHour),
		intFieldDefault("health.degradation_sma_period", &h.DegradationSMAPeriod, defaultSMAPeriod),
		intFieldDefault("health.breaker_threshold", &h.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("health.breaker_timeout_seconds", &h.BreakerTimeoutSec, defaultBreakerTimeout),
		intFieldDefault("health.max_task_restarts", &h.MaxTaskRestarts, defaultMaxTaskRestarts),
	)
	if !keys.isSet("health.degradation_threshold") && h.DegradationThreshold == 0 {
		h.DegradationThreshold = defaultDegradation
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
