package engine

import (
	"context"
	"time"

	"arbiter/internal/gate"
	"arbiter/internal/signal"
	"arbiter/internal/types"
)

// SignalSource 是市场数据富集协作方的端口：每轮提供全量信号批次。
type SignalSource interface {
	Latest(ctx context.Context) (signal.Batch, error)
}

// PositionSource 是执行协作方的端口：提供持仓快照与连通性探测。
type PositionSource interface {
	Snapshot(ctx context.Context) (types.PositionBook, error)
	Ping(ctx context.Context) error
}

// EntryHook 在 entered 决策产出后回调（外部执行端负责真正下单；本核心
// 从不提交订单）。Eviction 非空表示 displacement 方案要求先平掉弱势仓。
type EntryHook func(candidate gate.Candidate, eviction *types.PositionSnapshot, at time.Time)
