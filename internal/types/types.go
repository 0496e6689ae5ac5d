package types

import (
	"strings"
	"time"
)

// SchemaVersion 标记所有持久化记录的结构版本，消费端按 best-effort 处理未知版本。
const SchemaVersion = 2

const (
	SideLong  = "long"
	SideShort = "short"
)

// SignalComponent 表达一条外部富集器提供的信号分量（只读输入）。
type SignalComponent struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	SourceLayer string  `json:"source_layer,omitempty"`
}

// PositionSnapshot 描述执行端回报的单个持仓。
type PositionSnapshot struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Notional   float64   `json:"notional,omitempty"`
	Sector     string    `json:"sector,omitempty"`
	Score      float64   `json:"score"`
	EntryTime  time.Time `json:"entry_time"`
}

// HeldFor returns how long the position has been open at the given instant.
func (p PositionSnapshot) HeldFor(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// PositionBook 是单轮决策内所有 gate 共享的持仓快照，构造后不再修改。
type PositionBook struct {
	Positions []PositionSnapshot `json:"positions"`
	AsOf      time.Time          `json:"as_of"`
}

func (b PositionBook) Count() int { return len(b.Positions) }

func (b PositionBook) Holds(symbol string) bool {
	_, ok := b.BySymbol(symbol)
	return ok
}

func (b PositionBook) BySymbol(symbol string) (PositionSnapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range b.Positions {
		if strings.ToUpper(p.Symbol) == symbol {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}

// Weakest returns the held position with the lowest entry score.
func (b PositionBook) Weakest() (PositionSnapshot, bool) {
	if len(b.Positions) == 0 {
		return PositionSnapshot{}, false
	}
	weakest := b.Positions[0]
	for _, p := range b.Positions[1:] {
		if p.Score < weakest.Score {
			weakest = p
		}
	}
	return weakest, true
}

// SectorCount 统计某行业当前持仓数量。
func (b PositionBook) SectorCount(sector string) int {
	if strings.TrimSpace(sector) == "" {
		return 0
	}
	n := 0
	for _, p := range b.Positions {
		if strings.EqualFold(p.Sector, sector) {
			n++
		}
	}
	return n
}

// NetDirection returns the book-wide dominant side, or "" when balanced/empty.
func (b PositionBook) NetDirection() string {
	long, short := 0, 0
	for _, p := range b.Positions {
		switch p.Side {
		case SideShort:
			short++
		default:
			long++
		}
	}
	switch {
	case long > short:
		return SideLong
	case short > long:
		return SideShort
	default:
		return ""
	}
}

// TradeOutcome 是持仓关闭后执行端回传的已实现结果。
type TradeOutcome struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	CloseReason string    `json:"close_reason"`
	Components  []string  `json:"components,omitempty"`
	ClosedAt    time.Time `json:"closed_at"`
}

// Win reports whether the realized outcome counts as a win for attribution.
func (o TradeOutcome) Win() bool { return o.PnL > 0 }

// BlockedTradeRecord 由任一拦截 gate 写出，shadow 评估器消费，写后不可变。
type BlockedTradeRecord struct {
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"ts"`
	Symbol        string    `json:"symbol"`
	Reason        string    `json:"reason"`
	Score         float64   `json:"score"`
	Direction     string    `json:"direction"`
}
