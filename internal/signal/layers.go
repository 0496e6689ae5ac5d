package signal

import "strings"

// 信号层名称。分层用于可解释性：每条 trace 至少要有两个非空层。
const (
	LayerFlow       = "flow"
	LayerDarkPool   = "dark_pool"
	LayerRegime     = "regime"
	LayerVolatility = "volatility"
	LayerOther      = "other"
	LayerContext    = "context"
)

// layerPatterns 是分量名到规范层的声明式映射表。散落的字符串别名统一收敛到
// 这一张表，匹配顺序即优先级；未命中的进入 other 桶。
var layerPatterns = []struct {
	layer     string
	fragments []string
}{
	{LayerDarkPool, []string{"dark_pool", "darkpool", "dp_", "off_exchange", "ats_", "lit_ratio"}},
	{LayerFlow, []string{"flow", "sweep", "block_trade", "tape", "momentum", "uoa", "call_put"}},
	{LayerVolatility, []string{"volatility", "vol_", "_vol", "vix", "gamma", "iv_", "atr"}},
	{LayerRegime, []string{"regime", "trend", "breadth", "sector_", "market_", "macro"}},
}

// canonicalAliases 将历史遗留的分量别名折叠为规范名。
var canonicalAliases = map[string]string{
	"darkpool_ratio":  "dark_pool_ratio",
	"dpool_score":     "dark_pool_score",
	"opt_flow":        "options_flow",
	"optflow":         "options_flow",
	"mkt_regime":      "market_regime",
	"vol_rank":        "volatility_rank",
	"momo":            "momentum",
	"momo_burst":      "momentum_ignition",
	"sweep_signal":    "sweep_score",
	"breadth_signal":  "breadth",
	"sector_strength": "sector_rank",
}

// CanonicalName 归一化分量名（小写、去空白、别名折叠）。
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canon, ok := canonicalAliases[name]; ok {
		return canon
	}
	return name
}

// ClassifyLayer 根据分量名（或显式 source_layer）返回所属层。
func ClassifyLayer(name, sourceLayer string) string {
	if sl := strings.ToLower(strings.TrimSpace(sourceLayer)); sl != "" {
		switch sl {
		case LayerFlow, LayerDarkPool, LayerRegime, LayerVolatility, LayerOther, LayerContext:
			return sl
		}
	}
	name = CanonicalName(name)
	for _, p := range layerPatterns {
		for _, frag := range p.fragments {
			if strings.Contains(name, frag) {
				return p.layer
			}
		}
	}
	return LayerOther
}
