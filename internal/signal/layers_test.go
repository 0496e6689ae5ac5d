package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLayer(t *testing.T) {
	cases := []struct {
		name        string
		sourceLayer string
		want        string
	}{
		{"dark_pool_ratio", "", LayerDarkPool},
		{"darkpool_ratio", "", LayerDarkPool}, // alias folds before matching
		{"options_flow", "", LayerFlow},
		{"sweep_score", "", LayerFlow},
		{"momentum_ignition", "", LayerFlow},
		{"volatility_rank", "", LayerVolatility},
		{"iv_percentile", "", LayerVolatility},
		{"market_regime", "", LayerRegime},
		{"breadth", "", LayerRegime},
		{"mystery_signal", "", LayerOther},
		{"anything", "regime", LayerRegime},
		{"anything", "bogus_layer", LayerOther},
	}
	for _, tc := range cases {
		t.Run(tc.name+"/"+tc.sourceLayer, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLayer(tc.name, tc.sourceLayer))
		})
	}
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "dark_pool_ratio", CanonicalName("darkpool_ratio"))
	assert.Equal(t, "options_flow", CanonicalName("  OPT_FLOW "))
	assert.Equal(t, "momentum_ignition", CanonicalName("momo_burst"))
	assert.Equal(t, "plain_name", CanonicalName("Plain_Name"))
}
