package learner

import "math"

// zScore 对观测胜率相对 50% 基线做单比例 z 检验。
// H0: p = 0.5；返回值与 ±confidenceZ 比较。
func zScore(wins, losses int64) float64 {
	n := float64(wins + losses)
	if n <= 0 {
		return 0
	}
	p := float64(wins) / n
	se := math.Sqrt(0.25 / n)
	if se == 0 {
		return 0
	}
	return (p - 0.5) / se
}

// MinSamplesForMargin 按 95% 置信下目标误差幅度推导最小样本量：
// n = z²·p(1-p)/moe²，p 取最保守的 0.5。moe=0.18 时约为 30。
func MinSamplesForMargin(moe float64) int {
	if moe <= 0 {
		return 0
	}
	const z95 = 1.96
	n := z95 * z95 * 0.25 / (moe * moe)
	return int(math.Ceil(n))
}
