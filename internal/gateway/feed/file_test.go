package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileSignalSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	writeFile(t, path, `{
		"as_of": "2026-03-10T15:00:00Z",
		"symbols": {
			"aapl": {"price": 190.5, "components": {"options_flow": 0.8}}
		}
	}`)

	batch, err := (&FileSignalSource{Path: path}).Latest(context.Background())
	require.NoError(t, err)
	require.Contains(t, batch.Symbols, "AAPL")
	assert.InDelta(t, 190.5, batch.Symbols["AAPL"].Price, 1e-9)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), batch.AsOf)
}

func TestFilePositionSourceMissingFileMeansFlat(t *testing.T) {
	src := &FilePositionSource{Path: filepath.Join(t.TempDir(), "positions.json")}
	book, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, book.Count())
	assert.NoError(t, src.Ping(context.Background()))
}

func TestFilePositionSourceParsesBook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	writeFile(t, path, `{
		"as_of": "2026-03-10T15:00:00Z",
		"positions": [
			{"symbol": "MSFT", "side": "long", "entry_price": 400, "quantity": 10, "score": 0.6}
		]
	}`)

	book, err := (&FilePositionSource{Path: path}).Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, book.Count())
	assert.Equal(t, "MSFT", book.Positions[0].Symbol)
}

func TestFilePositionSourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	writeFile(t, path, "not json at all")
	_, err := (&FilePositionSource{Path: path}).Snapshot(context.Background())
	assert.Error(t, err)
}

func TestFileOutcomeFeedIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	writeFile(t, path, `{"symbol":"AAPL","pnl":12.5,"pnl_pct":0.012}`+"\n")

	feed := &FileOutcomeFeed{Path: path}
	var got []types.TradeOutcome
	handle := func(o types.TradeOutcome) { got = append(got, o) }

	require.NoError(t, feed.Poll(context.Background(), handle))
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)

	// 再轮询不重复消费。
	require.NoError(t, feed.Poll(context.Background(), handle))
	assert.Len(t, got, 1)

	// 追加新行后增量读取。
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"symbol":"MSFT","pnl":-3.0,"pnl_pct":-0.004}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, feed.Poll(context.Background(), handle))
	require.Len(t, got, 2)
	assert.Equal(t, "MSFT", got[1].Symbol)
}

func TestFileOutcomeFeedHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	// 没有换行的半行：写入仍在进行，留待下一轮。
	writeFile(t, path, `{"symbol":"AAPL","pnl":1`)

	feed := &FileOutcomeFeed{Path: path}
	var got []types.TradeOutcome
	require.NoError(t, feed.Poll(context.Background(), func(o types.TradeOutcome) { got = append(got, o) }))
	assert.Empty(t, got)

	writeFile(t, path, `{"symbol":"AAPL","pnl":12.5}`+"\n")
	require.NoError(t, feed.Poll(context.Background(), func(o types.TradeOutcome) { got = append(got, o) }))
	assert.Len(t, got, 1)
}

func TestFileOutcomeFeedSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	writeFile(t, path, "garbage\n"+`{"symbol":"AAPL","pnl":1}`+"\n")

	feed := &FileOutcomeFeed{Path: path}
	var got []types.TradeOutcome
	require.NoError(t, feed.Poll(context.Background(), func(o types.TradeOutcome) { got = append(got, o) }))
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
}

func TestFileOutcomeFeedMissingFile(t *testing.T) {
	feed := &FileOutcomeFeed{Path: filepath.Join(t.TempDir(), "missing.jsonl")}
	assert.NoError(t, feed.Poll(context.Background(), func(types.TradeOutcome) {}))
}
