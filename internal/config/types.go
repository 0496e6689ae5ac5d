package config

import "strings"

// Config 是 arbiter 决策核心的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Feeds   FeedsConfig   `toml:"feeds"`
	Trace   TraceConfig   `toml:"trace"`
	Gates   GatesConfig   `toml:"gates"`
	Learner LearnerConfig `toml:"learner"`
	Shadow  ShadowConfig  `toml:"shadow"`
	Health  HealthConfig  `toml:"health"`
}

// FeedsConfig 指定文件型协作方适配器的数据路径（信号批次、持仓快照、成交结果）。
type FeedsConfig struct {
	SignalsPath   string `toml:"signals_path"`
	PositionsPath string `toml:"positions_path"`
	OutcomesPath  string `toml:"outcomes_path"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	CycleInterval string `toml:"cycle_interval"`
	CycleWorkers  int    `toml:"cycle_workers"`
}

// TraceConfig 控制决策链路日志的落盘位置与体积上限。
type TraceConfig struct {
	LogPath       string `toml:"log_path"` // JSONL 追加文件
	DBPath        string `toml:"db_path"`  // sqlite 镜像
	MaxTraceBytes int    `toml:"max_trace_bytes"`
}

// GatesConfig 汇总所有 gate 阈值；dominance/min-hold 等均为外置配置而非常量。
type GatesConfig struct {
	ScoreMin           float64 `toml:"score_min"`
	MaxPositions       int     `toml:"max_positions"`
	LongOnly           bool    `toml:"long_only"`
	CooldownSeconds    int     `toml:"cooldown_seconds"`
	MaxPerSymbol       int     `toml:"max_per_symbol"`
	MaxPerSector       int     `toml:"max_per_sector"`
	MaxConcentration   float64 `toml:"max_concentration"` // 单标的占组合比例上限
	MaxThemeExposure   int     `toml:"max_theme_exposure"`
	MarketSessionCheck bool    `toml:"market_session_check"`

	Displacement DisplacementConfig `toml:"displacement"`
	Directional  DirectionalConfig  `toml:"directional"`

	// ThresholdsPath 若非空，gate 阈值支持 fsnotify 热更新。
	ThresholdsPath string `toml:"thresholds_path"`
}

type DisplacementConfig struct {
	Enabled        bool    `toml:"enabled"`
	MinHoldSeconds int     `toml:"min_hold_seconds"`
	DominanceDelta float64 `toml:"dominance_delta"`
}

type DirectionalConfig struct {
	MinConfidence    float64 `toml:"min_confidence"`
	HighVolThreshold float64 `toml:"high_vol_threshold"`
	IgnitionZScore   float64 `toml:"ignition_zscore"`
}

// LearnerConfig 控制自适应权重学习的统计门槛与步长边界。
type LearnerConfig struct {
	Interval      string  `toml:"interval"`
	MinSamples    int     `toml:"min_samples"`
	ConfidenceZ   float64 `toml:"confidence_z"`
	StepFrac      float64 `toml:"step_frac"`
	MaxDriftFrac  float64 `toml:"max_drift_frac"`
	MarginOfError float64 `toml:"margin_of_error"`
}

// ShadowConfig 控制反事实评估器的 horizon 与 TP/SL 网格。
type ShadowConfig struct {
	DBPath      string    `toml:"db_path"`
	Interval    string    `toml:"interval"`
	HorizonsMin []int     `toml:"horizons_min"`
	TakeProfits []float64 `toml:"take_profits"` // 小数比例，如 0.02 = 2%
	StopLosses  []float64 `toml:"stop_losses"`
}

// HealthConfig 控制健康巡检与熔断。
type HealthConfig struct {
	Interval             string  `toml:"interval"`
	StaleDataSeconds     int     `toml:"stale_data_seconds"`
	MinTradesPerHour     float64 `toml:"min_trades_per_hour"`
	DegradationSMAPeriod int     `toml:"degradation_sma_period"`
	DegradationThreshold float64 `toml:"degradation_threshold"`
	BreakerThreshold     int     `toml:"breaker_threshold"`
	BreakerTimeoutSec    int     `toml:"breaker_timeout_seconds"`
	MaxTaskRestarts      int     `toml:"max_task_restarts"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
