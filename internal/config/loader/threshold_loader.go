package loader

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"arbiter/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GateThresholds 是支持热更新的 gate 阈值子集。
// 未在文件中出现的字段保持零值，由订阅方决定是否覆盖。
type GateThresholds struct {
	ScoreMin       float64 `mapstructure:"score_min"`
	MaxPositions   int     `mapstructure:"max_positions"`
	MinHoldSeconds int     `mapstructure:"min_hold_seconds"`
	DominanceDelta float64 `mapstructure:"dominance_delta"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
}

// ThresholdSnapshot 对外暴露的只读快照。
type ThresholdSnapshot struct {
	Version    int64
	LoadedAt   time.Time
	Thresholds GateThresholds
}

// ChangeListener 在阈值变更时被调用。
type ChangeListener func(ThresholdSnapshot)

// ThresholdLoader 从 YAML 文件加载 gate 阈值并监听热更新。
type ThresholdLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ThresholdSnapshot
	listeners []ChangeListener
}

// NewThresholdLoader 读取阈值文件并开始监听 FS 事件。
func NewThresholdLoader(path string) (*ThresholdLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("threshold loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read threshold config failed: %w", err)
	}
	loader := &ThresholdLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("threshold reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

func (l *ThresholdLoader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	var th GateThresholds
	if err := l.v.Unmarshal(&th); err != nil {
		return fmt.Errorf("parse threshold config failed: %w", err)
	}
	l.mu.Lock()
	l.snapshot = ThresholdSnapshot{
		Version:    l.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Thresholds: th,
	}
	l.mu.Unlock()
	logger.Infof("gate thresholds loaded (version=%d, path=%s)", l.snapshot.Version, l.path)
	return nil
}

// Snapshot 返回当前阈值快照。
func (l *ThresholdLoader) Snapshot() ThresholdSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ThresholdLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go runListener(fn, snap)
}

func (l *ThresholdLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go runListener(fn, snap)
	}
}

func runListener(fn ChangeListener, snap ThresholdSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("threshold listener panic: %v", r)
		}
	}()
	fn(snap)
}
