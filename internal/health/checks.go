package health

import (
	"context"
	"fmt"
	"time"

	"arbiter/internal/pkg/circuit"

	"github.com/markcheno/go-talib"
)

// DataFreshnessCheck 监控信号批次新鲜度。
func DataFreshnessCheck(lastBatch func() time.Time, maxAge time.Duration, interval time.Duration) Check {
	return Check{
		Name:     "data_freshness",
		Severity: SeverityCritical,
		Interval: interval,
		Run: func(ctx context.Context) error {
			last := lastBatch()
			if last.IsZero() {
				return fmt.Errorf("no signal batch received yet")
			}
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("signal batch stale: age=%s max=%s", age.Truncate(time.Second), maxAge)
			}
			return nil
		},
	}
}

// BrokerConnectivityCheck 探测执行协作方连通性。
func BrokerConnectivityCheck(ping func(ctx context.Context) error, interval time.Duration) Check {
	return Check{
		Name:     "broker_connectivity",
		Severity: SeverityCritical,
		Interval: interval,
		Run:      ping,
	}
}

// PositionConsistencyCheck 对比本地与执行端的持仓数量。
func PositionConsistencyCheck(counts func(ctx context.Context) (local, remote int, err error), interval time.Duration) Check {
	return Check{
		Name:     "position_consistency",
		Severity: SeverityWarn,
		Interval: interval,
		Run: func(ctx context.Context) error {
			local, remote, err := counts(ctx)
			if err != nil {
				return fmt.Errorf("position count fetch failed: %w", err)
			}
			if local != remote {
				return fmt.Errorf("position count mismatch: local=%d remote=%d", local, remote)
			}
			return nil
		},
	}
}

// TradeCadenceCheck 监控成交节奏是否异常低迷。
func TradeCadenceCheck(tradesPerHour func() float64, min float64, interval time.Duration) Check {
	return Check{
		Name:     "trade_cadence",
		Severity: SeverityInfo,
		Interval: interval,
		Run: func(ctx context.Context) error {
			rate := tradesPerHour()
			if rate < min {
				return fmt.Errorf("trade cadence %.2f/h below minimum %.2f/h", rate, min)
			}
			return nil
		},
	}
}

// PerformanceDegradationCheck 对近期已实现收益做 SMA 平滑；均值跌破阈值视为
// 系统性退化。整改动作是强制打开熔断（risk gate 据此停止新入场）——
// 有界、每个失败连段只触发一次。
func PerformanceDegradationCheck(recentReturns func() []float64, smaPeriod int, threshold float64, breaker *circuit.Breaker, interval time.Duration) Check {
	if smaPeriod < 2 {
		smaPeriod = 2
	}
	return Check{
		Name:     "performance_degradation",
		Severity: SeverityCritical,
		Interval: interval,
		Run: func(ctx context.Context) error {
			returns := recentReturns()
			if len(returns) < smaPeriod {
				// 样本不足不算失败。
				return nil
			}
			sma := talib.Sma(returns, smaPeriod)
			latest := sma[len(sma)-1]
			if latest < threshold {
				return fmt.Errorf("smoothed return %.4f below threshold %.4f", latest, threshold)
			}
			return nil
		},
		Remediate: func(ctx context.Context) error {
			if breaker == nil {
				return fmt.Errorf("no breaker wired")
			}
			breaker.ForceOpen()
			return nil
		},
	}
}
