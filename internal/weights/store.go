// Package weights holds the versioned per-component weight bands consumed by
// the signal aggregator and adjusted (exclusively) by the adaptive learner.
package weights

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arbiter/internal/logger"
)

// NeutralWeight 是没有任何学习数据时的默认权重。
const NeutralWeight = 1.0

// Band 是单个信号分量的权重带。
type Band struct {
	ComponentName string    `json:"component_name"`
	NeutralWeight float64   `json:"neutral_weight"`
	CurrentWeight float64   `json:"current_weight"`
	SampleCount   int64     `json:"sample_count"`
	LastAdjusted  time.Time `json:"last_adjusted_at"`
}

// Persister 负责权重带的落盘与启动恢复。
type Persister interface {
	SaveWeightBands(ctx context.Context, version int64, bands []Band) error
	LoadWeightBands(ctx context.Context) (int64, []Band, error)
}

type snapshot struct {
	version int64
	bands   map[string]Band
}

// Store is single-writer (the learner) / multi-reader with atomic
// replace-on-write: readers never observe a partially written band set.
type Store struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
	persist Persister
}

func NewStore(persist Persister) *Store {
	s := &Store{persist: persist}
	s.current.Store(&snapshot{version: 0, bands: map[string]Band{}})
	return s
}

// Restore 从持久层恢复上次的权重带；没有历史数据时保持空集。
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	version, bands, err := s.persist.LoadWeightBands(ctx)
	if err != nil {
		return fmt.Errorf("restore weight bands: %w", err)
	}
	m := make(map[string]Band, len(bands))
	for _, b := range bands {
		if b.ComponentName == "" {
			continue
		}
		m[b.ComponentName] = b
	}
	s.current.Store(&snapshot{version: version, bands: m})
	logger.Infof("weight store restored: %d bands, version=%d", len(m), version)
	return nil
}

// Lookup returns the band for a component, if one exists.
func (s *Store) Lookup(name string) (Band, bool) {
	snap := s.current.Load()
	b, ok := snap.bands[name]
	return b, ok
}

// WeightFor returns the learned weight for a component, neutral 1.0 when no
// band exists.
func (s *Store) WeightFor(name string) float64 {
	if b, ok := s.Lookup(name); ok {
		return b.CurrentWeight
	}
	return NeutralWeight
}

// Version returns the version of the snapshot readers currently see.
func (s *Store) Version() int64 {
	return s.current.Load().version
}

// Bands returns a sorted copy of all bands plus the snapshot version.
func (s *Store) Bands() (int64, []Band) {
	snap := s.current.Load()
	out := make([]Band, 0, len(snap.bands))
	for _, b := range snap.bands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComponentName < out[j].ComponentName })
	return snap.version, out
}

// Replace atomically installs a new band set. Only the learner calls this.
// sample_count 单调不减：新带样本数低于旧带时保留旧值。
func (s *Store) Replace(ctx context.Context, bands []Band) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.current.Load()
	next := make(map[string]Band, len(bands))
	for _, b := range bands {
		if b.ComponentName == "" {
			continue
		}
		if prev, ok := old.bands[b.ComponentName]; ok && b.SampleCount < prev.SampleCount {
			b.SampleCount = prev.SampleCount
		}
		next[b.ComponentName] = b
	}
	version := old.version + 1
	s.current.Store(&snapshot{version: version, bands: next})

	if s.persist != nil {
		sorted := make([]Band, 0, len(next))
		for _, b := range next {
			sorted = append(sorted, b)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ComponentName < sorted[j].ComponentName })
		if err := s.persist.SaveWeightBands(ctx, version, sorted); err != nil {
			// 内存快照已生效；落盘失败只记日志，下轮重试。
			logger.Errorf("persist weight bands failed (version=%d): %v", version, err)
		}
	}
	return nil
}
