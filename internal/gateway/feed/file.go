// Package feed provides file-backed collaborator adapters: the enrichment
// pipeline drops signal batches and position snapshots as JSON files, the
// execution side appends realized outcomes as JSONL. Useful for local runs and
// replay harnesses; production deployments swap in their own ports.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"arbiter/internal/logger"
	"arbiter/internal/signal"
	"arbiter/internal/types"

	"github.com/tidwall/gjson"
)

// FileSignalSource 每轮重读信号批次文件。
type FileSignalSource struct {
	Path string
}

func (f *FileSignalSource) Latest(ctx context.Context) (signal.Batch, error) {
	if err := ctx.Err(); err != nil {
		return signal.Batch{}, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return signal.Batch{}, fmt.Errorf("read signal batch file: %w", err)
	}
	return signal.ParseBatch(raw)
}

// FilePositionSource 从执行端导出的 JSON 文件读取持仓快照。
// 文件不存在视为空仓（冷启动），解析失败才报错。
type FilePositionSource struct {
	Path string
}

func (f *FilePositionSource) Snapshot(ctx context.Context) (types.PositionBook, error) {
	if err := ctx.Err(); err != nil {
		return types.PositionBook{}, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.PositionBook{}, nil
		}
		return types.PositionBook{}, fmt.Errorf("read position file: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return types.PositionBook{}, fmt.Errorf("position file is not valid json")
	}
	var book types.PositionBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return types.PositionBook{}, fmt.Errorf("parse position file: %w", err)
	}
	return book, nil
}

func (f *FilePositionSource) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("position file unreachable: %w", err)
	}
	return nil
}

// FileOutcomeFeed 增量读取执行端追加的成交结果 JSONL。偏移量只在整行解析
// 成功后推进，半行（写入进行中）留待下一轮。
type FileOutcomeFeed struct {
	Path string

	mu     sync.Mutex
	offset int64
}

// Poll 读取上次偏移之后的新行并逐条回调。
func (f *FileOutcomeFeed) Poll(ctx context.Context, handle func(types.TradeOutcome)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open outcome feed: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < f.offset {
		// 文件被轮转截断：从头重读。
		logger.Warnf("feed: outcome file truncated, resetting offset (%s)", f.Path)
		f.offset = 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}
	raw, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	consumed := int64(0)
	for {
		idx := indexNewline(raw)
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(raw[:idx]))
		raw = raw[idx+1:]
		consumed += int64(idx + 1)
		if line == "" {
			continue
		}
		var o types.TradeOutcome
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			logger.Warnf("feed: skipping malformed outcome line: %v", err)
			continue
		}
		handle(o)
	}
	f.offset += consumed
	return nil
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
