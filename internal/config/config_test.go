package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "config.yaml", `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9982", cfg.App.HTTPAddr)
	assert.Equal(t, 4, cfg.App.CycleWorkers)
	assert.Equal(t, "/data/live/signals.json", cfg.Feeds.SignalsPath)
	assert.Equal(t, "/data/live/outcomes.jsonl", cfg.Feeds.OutcomesPath)
	assert.InDelta(t, 0.5, cfg.Gates.ScoreMin, 1e-9)
	assert.Equal(t, 8, cfg.Gates.MaxPositions)
	assert.True(t, cfg.Gates.Displacement.Enabled)
	assert.Equal(t, 900, cfg.Gates.Displacement.MinHoldSeconds)
	assert.InDelta(t, 0.75, cfg.Gates.Displacement.DominanceDelta, 1e-9)
	assert.Equal(t, 30, cfg.Learner.MinSamples)
	assert.InDelta(t, 1.96, cfg.Learner.ConfidenceZ, 1e-9)
	assert.Equal(t, []int{30, 120, 390}, cfg.Shadow.HorizonsMin)
	assert.Equal(t, []float64{0.02, 0.04}, cfg.Shadow.TakeProfits)
	assert.InDelta(t, -0.02, cfg.Health.DegradationThreshold, 1e-9)
	assert.Equal(t, 65536, cfg.Trace.MaxTraceBytes)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "config.yaml", `
gates:
  score_min: 0.8
  max_positions: 3
  displacement:
    enabled: false
learner:
  min_samples: 50
health:
  degradation_threshold: -0.05
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, cfg.Gates.ScoreMin, 1e-9)
	assert.Equal(t, 3, cfg.Gates.MaxPositions)
	assert.False(t, cfg.Gates.Displacement.Enabled)
	assert.Equal(t, 50, cfg.Learner.MinSamples)
	assert.InDelta(t, -0.05, cfg.Health.DegradationThreshold, 1e-9)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "base.yaml", `
gates:
  score_min: 0.6
  max_positions: 5
`)
	path := writeYAML(t, dir, "config.yaml", `
include:
  - base.yaml
gates:
  score_min: 0.7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// 主文件覆盖 include，未覆盖的字段继承。
	assert.InDelta(t, 0.7, cfg.Gates.ScoreMin, 1e-9)
	assert.Equal(t, 5, cfg.Gates.MaxPositions)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeYAML(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "negative min hold",
			yaml: "gates:\n  displacement:\n    min_hold_seconds: -1\n",
			want: "min_hold_seconds",
		},
		{
			name: "confidence out of range",
			yaml: "gates:\n  directional:\n    min_confidence: 1.5\n",
			want: "min_confidence",
		},
		{
			name: "step frac too large",
			yaml: "learner:\n  step_frac: 1.2\n",
			want: "step_frac",
		},
		{
			name: "bad horizon",
			yaml: "shadow:\n  horizons_min: [30, -5]\n",
			want: "horizons_min",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeYAML(t, t.TempDir(), "config.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
