package shadow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arbiter/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIntentStore struct {
	mu       sync.Mutex
	intents  map[string]Intent
	archived []string
	outcomes []Outcome
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{intents: map[string]Intent{}}
}

func (m *memIntentStore) EnqueueIntent(ctx context.Context, intent Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.intents[intent.IntentID]; exists {
		return nil
	}
	m.intents[intent.IntentID] = intent
	return nil
}

func (m *memIntentStore) PendingIntents(ctx context.Context) ([]Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, 0, len(m.intents))
	for _, it := range m.intents {
		out = append(out, it)
	}
	return out, nil
}

func (m *memIntentStore) MarkHorizonEvaluated(ctx context.Context, intentID string, horizonMin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.intents[intentID]
	if !ok {
		return fmt.Errorf("intent %s not found", intentID)
	}
	for _, h := range it.EvaluatedMin {
		if h == horizonMin {
			return nil
		}
	}
	it.EvaluatedMin = append(it.EvaluatedMin, horizonMin)
	m.intents[intentID] = it
	return nil
}

func (m *memIntentStore) ArchiveIntent(ctx context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, intentID)
	m.archived = append(m.archived, intentID)
	return nil
}

func (m *memIntentStore) AppendOutcomes(ctx context.Context, outcomes []Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcomes...)
	return nil
}

func (m *memIntentStore) HasOutcome(ctx context.Context, intentID string, horizonMin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.outcomes {
		if o.IntentID == intentID && o.HorizonMin == horizonMin {
			return true, nil
		}
	}
	return false, nil
}

type stubPrices struct {
	paths map[string]PricePath
	err   error
}

func (s *stubPrices) PathSince(ctx context.Context, symbol string, from, until time.Time) (PricePath, error) {
	if s.err != nil {
		return PricePath{}, s.err
	}
	path, ok := s.paths[symbol]
	if !ok {
		return PricePath{}, ErrPriceUnavailable
	}
	return path, nil
}

func testEvaluator(store IntentStore, prices PriceSource, now time.Time) *Evaluator {
	e := NewEvaluator(store, prices, GridConfig{TakeProfits: []float64{0.02}, StopLosses: []float64{0.01}})
	e.nowFn = func() time.Time { return now }
	return e
}

func TestEnqueueValidation(t *testing.T) {
	e := testEvaluator(newMemIntentStore(), &stubPrices{}, time.Now())
	assert.Error(t, e.Enqueue(context.Background(), Intent{}))
	assert.Error(t, e.Enqueue(context.Background(), Intent{IntentID: "x", EntryPrice: 100}))
	assert.NoError(t, e.Enqueue(context.Background(), sampleIntent(types.SideLong)))
}

func TestRunOnceEvaluatesDueHorizonsOnly(t *testing.T) {
	store := newMemIntentStore()
	intent := sampleIntent(types.SideLong)
	intent.HorizonsMin = []int{30, 120}
	require.NoError(t, store.EnqueueIntent(context.Background(), intent))

	now := intent.EntryTS.Add(45 * time.Minute)
	prices := &stubPrices{paths: map[string]PricePath{"AAPL": {Start: 100, High: 101, Low: 99.5, End: 100.5}}}
	testEvaluator(store, prices, now).RunOnce(context.Background())

	// 30m 到期已评估；120m 还没到。
	remaining := store.intents[intent.IntentID]
	assert.Equal(t, []int{30}, remaining.EvaluatedMin)
	assert.Empty(t, store.archived)
	require.NotEmpty(t, store.outcomes)
	for _, o := range store.outcomes {
		assert.Equal(t, 30, o.HorizonMin)
		assert.Equal(t, types.SchemaVersion, o.SchemaVersion)
	}
}

func TestRunOncePriceUnavailableDefers(t *testing.T) {
	store := newMemIntentStore()
	intent := sampleIntent(types.SideLong)
	require.NoError(t, store.EnqueueIntent(context.Background(), intent))

	now := intent.EntryTS.Add(time.Hour)
	testEvaluator(store, &stubPrices{err: ErrPriceUnavailable}, now).RunOnce(context.Background())

	// 数据缺失不伪造结果：不标记、不产出、不归档。
	assert.Empty(t, store.outcomes)
	assert.Empty(t, store.intents[intent.IntentID].EvaluatedMin)
	assert.Empty(t, store.archived)
}

func TestRunOnceArchivesWhenAllHorizonsDone(t *testing.T) {
	store := newMemIntentStore()
	intent := sampleIntent(types.SideLong)
	intent.HorizonsMin = []int{30, 120}
	require.NoError(t, store.EnqueueIntent(context.Background(), intent))

	now := intent.EntryTS.Add(3 * time.Hour)
	prices := &stubPrices{paths: map[string]PricePath{"AAPL": {Start: 100, High: 101, Low: 99.5, End: 100.5}}}
	testEvaluator(store, prices, now).RunOnce(context.Background())

	assert.Equal(t, []string{intent.IntentID}, store.archived)
	assert.NotContains(t, store.intents, intent.IntentID)
}

func TestRunOnceIdempotentReplay(t *testing.T) {
	store := newMemIntentStore()
	intent := sampleIntent(types.SideLong)
	require.NoError(t, store.EnqueueIntent(context.Background(), intent))

	now := intent.EntryTS.Add(time.Hour)
	prices := &stubPrices{paths: map[string]PricePath{"AAPL": {Start: 100, High: 101, Low: 99.5, End: 100.5}}}

	e := testEvaluator(store, prices, now)
	e.RunOnce(context.Background())
	produced := len(store.outcomes)
	require.Positive(t, produced)

	// 重放同一 horizon（比如标记丢失后重启）：不产生重复结果。
	it := store.intents[intent.IntentID]
	it.EvaluatedMin = nil
	store.intents[intent.IntentID] = it
	store.archived = nil
	e.RunOnce(context.Background())

	assert.Len(t, store.outcomes, produced)
	assert.Equal(t, []string{intent.IntentID}, store.archived)
}

func TestOutcomeHookReceivesResults(t *testing.T) {
	store := newMemIntentStore()
	intent := sampleIntent(types.SideLong)
	intent.Components = []string{"options_flow"}
	require.NoError(t, store.EnqueueIntent(context.Background(), intent))

	now := intent.EntryTS.Add(time.Hour)
	prices := &stubPrices{paths: map[string]PricePath{"AAPL": {Start: 100, High: 101, Low: 99.5, End: 100.5}}}
	e := testEvaluator(store, prices, now)

	var gotIntent Intent
	var gotOutcomes []Outcome
	e.SetOutcomeHook(func(it Intent, outs []Outcome) {
		gotIntent = it
		gotOutcomes = outs
	})
	e.RunOnce(context.Background())

	assert.Equal(t, intent.IntentID, gotIntent.IntentID)
	assert.Equal(t, []string{"options_flow"}, gotIntent.Components)
	assert.NotEmpty(t, gotOutcomes)
}
