// Package app wires the decision core together and runs its loops: the
// decision cycle, the shadow evaluator, the learner recalibration, the health
// supervisor and the read-only HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/engine"
	"arbiter/internal/gateway/feed"
	"arbiter/internal/health"
	"arbiter/internal/learner"
	"arbiter/internal/logger"
	"arbiter/internal/scheduler"
	"arbiter/internal/shadow"
	"arbiter/internal/store/shadowstore"
	"arbiter/internal/store/tracelog"
	apihttp "arbiter/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：构建依赖 → 启动各循环 → 优雅退出。
type App struct {
	cfg         *config.Config
	engine      *engine.Engine
	evaluator   *shadow.Evaluator
	learner     *learner.Learner
	supervisor  *health.Supervisor
	server      *apihttp.Server
	traceStore  *tracelog.Store
	shadowStore *shadowstore.Store
	outcomes    *feed.FileOutcomeFeed
	thresholds  *loader.ThresholdLoader
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(context.Background(), cfg)
}

// Run 启动全部循环并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	a.startLoop(ctx, "decision_cycle", a.cfg.App.CycleInterval, time.Minute, true, func(taskCtx context.Context) {
		if err := a.outcomes.Poll(taskCtx, a.engine.OnTradeOutcome); err != nil {
			logger.Errorf("outcome feed poll failed: %v", err)
		}
		if err := a.engine.RunCycle(taskCtx); err != nil {
			logger.Errorf("decision cycle failed: %v", err)
		}
	})
	a.startLoop(ctx, "shadow_evaluator", a.cfg.Shadow.Interval, 30*time.Second, false, func(taskCtx context.Context) {
		a.evaluator.RunOnce(taskCtx)
	})
	a.startLoop(ctx, "weight_recalibration", a.cfg.Learner.Interval, 5*time.Minute, false, func(taskCtx context.Context) {
		if err := a.learner.Recalibrate(taskCtx); err != nil {
			logger.Errorf("weight recalibration failed: %v", err)
		}
	})
	a.startLoop(ctx, "health_supervisor", a.cfg.Health.Interval, 15*time.Second, true, func(taskCtx context.Context) {
		a.supervisor.RunDueChecks(taskCtx)
	})

	err := group.Wait()
	logger.Infof("arbiter stopped")
	return err
}

// startLoop 把一个周期任务挂到看门狗下：panic 有界重启，正常退出不重启。
func (a *App) startLoop(ctx context.Context, name, interval string, fallback time.Duration, immediate bool, task func(context.Context)) {
	dur, ok := scheduleInterval(interval, fallback)
	if !ok {
		logger.Warnf("invalid interval %q for %s, using %s", interval, name, fallback)
	}
	supervised := &health.SupervisedTask{
		Name:        name,
		MaxRestarts: a.cfg.Health.MaxTaskRestarts,
		Run: func(taskCtx context.Context) {
			sched := scheduler.NewIntervalScheduler(taskCtx, name, dur)
			sched.RunImmediately = immediate
			sched.Start(func() { task(taskCtx) })
		},
	}
	supervised.Start(ctx)
}

func (a *App) close() {
	if a.traceStore != nil {
		if err := a.traceStore.Close(); err != nil {
			logger.Warnf("close trace store: %v", err)
		}
	}
	if a.shadowStore != nil {
		if err := a.shadowStore.Close(); err != nil {
			logger.Warnf("close shadow store: %v", err)
		}
	}
}

func scheduleInterval(raw string, fallback time.Duration) (time.Duration, bool) {
	if dur, ok := scheduler.ParseIntervalDuration(raw); ok && dur > 0 {
		return dur, true
	}
	return fallback, false
}
