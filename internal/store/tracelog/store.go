// Package tracelog persists finalized decision traces (JSONL + sqlite mirror),
// blocked-trade records and weight-band state for audit/report tooling.
package tracelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"arbiter/internal/trace"
	"arbiter/internal/types"
	"arbiter/internal/weights"

	_ "modernc.org/sqlite"
)

// Store 管理决策 trace 日志：JSONL 追加文件 + sqlite 镜像，方便排查/可视化。
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	logPath string
	logFile *os.File
}

// TraceQuery 用于筛选历史 trace。
type TraceQuery struct {
	Symbol  string
	Outcome string
	Limit   int
	Offset  int
}

// TraceRow 是查询接口返回的摘要行。
type TraceRow struct {
	ID            int64   `json:"id"`
	IntentID      string  `json:"intent_id"`
	Timestamp     int64   `json:"ts"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Outcome       string  `json:"outcome"`
	PrimaryReason string  `json:"primary_reason"`
	Score         float64 `json:"score"`
	Invalid       bool    `json:"invalid"`
	TraceJSON     string  `json:"trace_json,omitempty"`
}

// NewStore 初始化 sqlite 镜像与 JSONL 追加文件。
func NewStore(dbPath, logPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("trace db path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logPath: strings.TrimSpace(logPath)}
	if s.logPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
			db.Close()
			return nil, err
		}
		f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.logFile = f
	}
	return s, nil
}

// Close 关闭底层 DB 与日志文件。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			first = err
		}
		s.logFile = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
		s.db = nil
	}
	return first
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_traces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			intent_id TEXT NOT NULL UNIQUE,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT,
			outcome TEXT NOT NULL,
			primary_reason TEXT,
			score REAL,
			invalid INTEGER NOT NULL DEFAULT 0,
			trace_json TEXT NOT NULL,
			schema_version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_traces_ts ON decision_traces(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_traces_symbol ON decision_traces(symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS blocked_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			reason TEXT NOT NULL,
			score REAL,
			direction TEXT,
			schema_version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_trades_ts ON blocked_trades(ts)`,
		`CREATE TABLE IF NOT EXISTS weight_bands (
			component TEXT PRIMARY KEY,
			neutral REAL NOT NULL,
			current REAL NOT NULL,
			samples INTEGER NOT NULL,
			adjusted_at INTEGER,
			version INTEGER NOT NULL,
			schema_version INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure tracelog schema: %w", err)
		}
	}
	return nil
}

// AppendTrace 落盘一条封存 trace：先 JSONL 后 sqlite。trace 封存先于落盘，
// 落盘失败只向上报错，不回滚决策。
func (s *Store) AppendTrace(ctx context.Context, t *trace.Trace) error {
	if t == nil {
		return fmt.Errorf("nil trace")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		if _, err := s.logFile.Write(append(raw, '\n')); err != nil {
			return fmt.Errorf("append trace jsonl: %w", err)
		}
	}
	if s.db == nil {
		return fmt.Errorf("trace store closed")
	}
	outcome, primary := "", ""
	if t.FinalDecision != nil {
		outcome = t.FinalDecision.Outcome
		primary = string(t.FinalDecision.PrimaryReason)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_traces
			(intent_id, ts, symbol, side, outcome, primary_reason, score, invalid, trace_json, schema_version)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.IntentID, t.Timestamp.UnixMilli(), t.Symbol, t.Side, outcome, primary,
		t.Aggregation.RawScore, boolToInt(t.Invalid), string(raw), t.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("insert trace row: %w", err)
	}
	return nil
}

// AppendBlocked 落盘一条拦截记录。
func (s *Store) AppendBlocked(ctx context.Context, rec types.BlockedTradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("trace store closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_trades (ts, symbol, reason, score, direction, schema_version)
		 VALUES (?,?,?,?,?,?)`,
		rec.Timestamp.UnixMilli(), rec.Symbol, rec.Reason, rec.Score, rec.Direction, rec.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("insert blocked trade: %w", err)
	}
	return nil
}

// RecentTraces 按时间倒序查询 trace 摘要。
func (s *Store) RecentTraces(ctx context.Context, q TraceQuery) ([]TraceRow, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("trace store closed")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		where = append(where, "symbol = ?")
		args = append(args, sym)
	}
	if out := strings.TrimSpace(q.Outcome); out != "" {
		where = append(where, "outcome = ?")
		args = append(args, out)
	}
	query := `SELECT id, intent_id, ts, symbol, side, outcome, primary_reason, score, invalid, trace_json
		FROM decision_traces`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TraceRow
	for rows.Next() {
		var r TraceRow
		var invalid int
		if err := rows.Scan(&r.ID, &r.IntentID, &r.Timestamp, &r.Symbol, &r.Side,
			&r.Outcome, &r.PrimaryReason, &r.Score, &invalid, &r.TraceJSON); err != nil {
			return nil, err
		}
		r.Invalid = invalid != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveWeightBands 实现 weights.Persister：整组原子替换。
func (s *Store) SaveWeightBands(ctx context.Context, version int64, bands []weights.Band) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("trace store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM weight_bands`); err != nil {
		return err
	}
	for _, b := range bands {
		var adjustedAt int64
		if !b.LastAdjusted.IsZero() {
			adjustedAt = b.LastAdjusted.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO weight_bands (component, neutral, current, samples, adjusted_at, version, schema_version)
			 VALUES (?,?,?,?,?,?,?)`,
			b.ComponentName, b.NeutralWeight, b.CurrentWeight, b.SampleCount, adjustedAt,
			version, types.SchemaVersion,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadWeightBands 实现 weights.Persister。
func (s *Store) LoadWeightBands(ctx context.Context) (int64, []weights.Band, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, nil, fmt.Errorf("trace store closed")
	}
	rows, err := db.QueryContext(ctx,
		`SELECT component, neutral, current, samples, adjusted_at, version FROM weight_bands ORDER BY component`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var version int64
	var bands []weights.Band
	for rows.Next() {
		var b weights.Band
		var adjustedAt int64
		if err := rows.Scan(&b.ComponentName, &b.NeutralWeight, &b.CurrentWeight,
			&b.SampleCount, &adjustedAt, &version); err != nil {
			return 0, nil, err
		}
		if adjustedAt > 0 {
			b.LastAdjusted = time.UnixMilli(adjustedAt)
		}
		bands = append(bands, b)
	}
	return version, bands, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
