// Package market keeps an in-memory price history built from observed signal
// batches. The shadow evaluator replays paths from it; nothing here talks to
// an exchange.
package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"arbiter/internal/shadow"
)

// maxPointsPerSymbol 限制每个标的保留的观测点数量。
const maxPointsPerSymbol = 4096

type pricePoint struct {
	ts    time.Time
	price float64
}

// PriceHistory 记录每轮信号批次里的参考价，为反事实评估提供价格路径。
// 覆盖不足（窗口右端之后还没有观测）时返回 ErrPriceUnavailable，由评估器顺延。
type PriceHistory struct {
	mu     sync.RWMutex
	series map[string][]pricePoint
}

func NewPriceHistory() *PriceHistory {
	return &PriceHistory{series: make(map[string][]pricePoint)}
}

// Observe 记录一次价格观测。乱序到达的时间戳按序插入。
func (h *PriceHistory) Observe(symbol string, price float64, ts time.Time) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || price <= 0 || ts.IsZero() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pts := h.series[symbol]
	idx := sort.Search(len(pts), func(i int) bool { return pts[i].ts.After(ts) })
	pts = append(pts, pricePoint{})
	copy(pts[idx+1:], pts[idx:])
	pts[idx] = pricePoint{ts: ts, price: price}
	if len(pts) > maxPointsPerSymbol {
		pts = pts[len(pts)-maxPointsPerSymbol:]
	}
	h.series[symbol] = pts
}

// PathSince 实现 shadow.PriceSource：返回 [from, until] 窗口的聚合价格路径。
func (h *PriceHistory) PathSince(ctx context.Context, symbol string, from, until time.Time) (shadow.PricePath, error) {
	if err := ctx.Err(); err != nil {
		return shadow.PricePath{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	h.mu.RLock()
	defer h.mu.RUnlock()
	pts := h.series[symbol]
	if len(pts) == 0 {
		return shadow.PricePath{}, shadow.ErrPriceUnavailable
	}
	// 窗口右端之后必须已有观测，否则路径还没走完。
	if !pts[len(pts)-1].ts.After(until) && !pts[len(pts)-1].ts.Equal(until) {
		return shadow.PricePath{}, shadow.ErrPriceUnavailable
	}

	var path shadow.PricePath
	seen := false
	for _, p := range pts {
		if p.ts.Before(from) || p.ts.After(until) {
			continue
		}
		if !seen {
			path.Start = p.price
			path.High = p.price
			path.Low = p.price
			seen = true
		}
		if p.price > path.High {
			path.High = p.price
		}
		if p.price < path.Low {
			path.Low = p.price
		}
		path.End = p.price
	}
	if !seen {
		return shadow.PricePath{}, shadow.ErrPriceUnavailable
	}
	return path, nil
}
