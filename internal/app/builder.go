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
	"arbiter/internal/market"
	"arbiter/internal/pkg/circuit"
	"arbiter/internal/shadow"
	"arbiter/internal/signal"
	"arbiter/internal/store/shadowstore"
	"arbiter/internal/store/tracelog"
	"arbiter/internal/trace"
	apihttp "arbiter/internal/transport/http"
	"arbiter/internal/weights"
)

// observingSignalSource 在转发信号批次的同时把参考价记入价格历史，
// 反事实评估靠这些观测回放路径。
type observingSignalSource struct {
	inner   engine.SignalSource
	history *market.PriceHistory
}

func (o *observingSignalSource) Latest(ctx context.Context) (signal.Batch, error) {
	batch, err := o.inner.Latest(ctx)
	if err != nil {
		return batch, err
	}
	for symbol, sig := range batch.Symbols {
		o.history.Observe(symbol, sig.Price, batch.AsOf)
	}
	return batch, nil
}

// buildApp 按依赖顺序组装全部组件：存储 → 权重 → 聚合/学习 → 引擎 →
// 巡检 → HTTP。
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	traceStore, err := tracelog.NewStore(cfg.Trace.DBPath, cfg.Trace.LogPath)
	if err != nil {
		return nil, fmt.Errorf("init trace store: %w", err)
	}
	shadowStore, err := shadowstore.NewStore(cfg.Shadow.DBPath)
	if err != nil {
		traceStore.Close()
		return nil, fmt.Errorf("init shadow store: %w", err)
	}

	weightStore := weights.NewStore(traceStore)
	if err := weightStore.Restore(ctx); err != nil {
		// 恢复失败退回中性权重，不阻塞启动。
		logger.Errorf("weight restore failed, starting neutral: %v", err)
	}

	breaker := circuit.NewBreaker("entry_admission",
		cfg.Health.BreakerThreshold,
		time.Duration(cfg.Health.BreakerTimeoutSec)*time.Second)

	history := market.NewPriceHistory()
	evaluator := shadow.NewEvaluator(shadowStore, history, shadow.GridConfig{
		TakeProfits: cfg.Shadow.TakeProfits,
		StopLosses:  cfg.Shadow.StopLosses,
	})
	lrn := learner.New(learner.Config{
		MinSamples:    cfg.Learner.MinSamples,
		ConfidenceZ:   cfg.Learner.ConfidenceZ,
		StepFrac:      cfg.Learner.StepFrac,
		MaxDriftFrac:  cfg.Learner.MaxDriftFrac,
		MarginOfError: cfg.Learner.MarginOfError,
	}, weightStore)
	evaluator.SetOutcomeHook(lrn.ObserveShadow)

	signals := &observingSignalSource{
		inner:   &feed.FileSignalSource{Path: cfg.Feeds.SignalsPath},
		history: history,
	}
	positions := &feed.FilePositionSource{Path: cfg.Feeds.PositionsPath}
	outcomes := &feed.FileOutcomeFeed{Path: cfg.Feeds.OutcomesPath}

	eng := engine.New(cfg.Gates, cfg.App.CycleWorkers, cfg.Shadow.HorizonsMin, engine.Deps{
		Signals:    signals,
		Positions:  positions,
		Aggregator: signal.NewAggregator(weightStore),
		Validator:  trace.NewValidator(cfg.Trace.MaxTraceBytes),
		Traces:     traceStore,
		Evaluator:  evaluator,
		Learner:    lrn,
		Breaker:    breaker,
	})

	var thresholds *loader.ThresholdLoader
	if cfg.Gates.ThresholdsPath != "" {
		thresholds, err = loader.NewThresholdLoader(cfg.Gates.ThresholdsPath)
		if err != nil {
			logger.Warnf("threshold loader disabled: %v", err)
		} else {
			thresholds.Subscribe(eng.ApplyThresholds)
		}
	}

	supervisor := buildSupervisor(cfg.Health, eng, positions, breaker)

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Health:   supervisor,
		Weights:  weightStore,
		Traces:   traceStore,
		Outcomes: shadowStore,
	})
	if err != nil {
		traceStore.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		cfg:         cfg,
		engine:      eng,
		evaluator:   evaluator,
		learner:     lrn,
		supervisor:  supervisor,
		server:      server,
		traceStore:  traceStore,
		shadowStore: shadowStore,
		outcomes:    outcomes,
		thresholds:  thresholds,
	}, nil
}

func buildSupervisor(cfg config.HealthConfig, eng *engine.Engine, positions *feed.FilePositionSource, breaker *circuit.Breaker) *health.Supervisor {
	interval, ok := scheduleInterval(cfg.Interval, 15*time.Second)
	if !ok {
		logger.Warnf("invalid health interval %q, using 15s", cfg.Interval)
	}
	staleAfter := time.Duration(cfg.StaleDataSeconds) * time.Second

	return health.NewSupervisor(
		health.DataFreshnessCheck(eng.LastBatchAt, staleAfter, interval),
		health.BrokerConnectivityCheck(positions.Ping, interval),
		health.PositionConsistencyCheck(func(ctx context.Context) (int, int, error) {
			book, err := positions.Snapshot(ctx)
			if err != nil {
				return 0, 0, err
			}
			return eng.LastBookCount(), book.Count(), nil
		}, interval),
		health.TradeCadenceCheck(eng.TradesPerHour, cfg.MinTradesPerHour, interval),
		health.PerformanceDegradationCheck(eng.RecentReturns, cfg.DegradationSMAPeriod,
			cfg.DegradationThreshold, breaker, interval),
	)
}
