// Package shadowstore implements the shadow evaluator's bookkeeping using
// Gorm + SQLite.
package shadowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"arbiter/internal/shadow"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Store 持久化 shadow intent/outcome。实现 shadow.IntentStore。
type Store struct {
	db *gorm.DB
}

// NewStore 打开（必要时创建）sqlite 文件并迁移表结构。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("shadow store path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open shadow store: %w", err)
	}
	if err := db.AutoMigrate(&ShadowIntentModel{}, &ShadowOutcomeModel{}); err != nil {
		return nil, fmt.Errorf("migrate shadow store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnqueueIntent 登记 intent；已存在的 intent_id 原样保留（insert-if-absent）。
func (s *Store) EnqueueIntent(ctx context.Context, intent shadow.Intent) error {
	model, err := intentToModel(intent)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

// PendingIntents 返回所有未归档 intent。
func (s *Store) PendingIntents(ctx context.Context) ([]shadow.Intent, error) {
	var models []ShadowIntentModel
	if err := s.db.WithContext(ctx).Order("entry_ts asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]shadow.Intent, 0, len(models))
	for _, m := range models {
		intent, err := modelToIntent(m)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

// MarkHorizonEvaluated 把 horizon 记入 evaluated 集合（幂等）。
func (s *Store) MarkHorizonEvaluated(ctx context.Context, intentID string, horizonMin int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m ShadowIntentModel
		if err := tx.Where("intent_id = ?", intentID).First(&m).Error; err != nil {
			return err
		}
		evaluated, err := decodeInts(m.Evaluated)
		if err != nil {
			return err
		}
		for _, h := range evaluated {
			if h == horizonMin {
				return nil
			}
		}
		evaluated = append(evaluated, horizonMin)
		sort.Ints(evaluated)
		raw, err := json.Marshal(evaluated)
		if err != nil {
			return err
		}
		return tx.Model(&ShadowIntentModel{}).
			Where("intent_id = ?", intentID).
			Update("evaluated", datatypesJSON(raw)).Error
	})
}

// ArchiveIntent 删除已全部评估完的 intent；outcome 行保留。
func (s *Store) ArchiveIntent(ctx context.Context, intentID string) error {
	return s.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Delete(&ShadowIntentModel{}).Error
}

// AppendOutcomes 追加结果。唯一索引冲突视为已写入（幂等），整批不失败。
func (s *Store) AppendOutcomes(ctx context.Context, outcomes []shadow.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	models := make([]ShadowOutcomeModel, 0, len(outcomes))
	now := time.Now().UTC()
	for _, o := range outcomes {
		models = append(models, ShadowOutcomeModel{
			IntentID:      o.IntentID,
			HorizonMin:    o.HorizonMin,
			Variant:       o.Variant,
			Symbol:        o.Symbol,
			Kind:          o.Kind,
			EntryPrice:    o.EntryPrice,
			EndPrice:      o.EndPrice,
			ReturnPct:     o.ReturnPct,
			HitTP:         o.HitTP,
			HitSL:         o.HitSL,
			Ambiguous:     o.Ambiguous,
			SchemaVersion: o.SchemaVersion,
			CreatedAt:     now,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models).Error
}

// HasOutcome 判断 (intent, horizon) 是否已有任一结果行。
func (s *Store) HasOutcome(ctx context.Context, intentID string, horizonMin int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ShadowOutcomeModel{}).
		Where("intent_id = ? AND horizon_min = ?", intentID, horizonMin).
		Count(&count).Error
	return count > 0, err
}

// RecentOutcomes 按写入时间倒序返回结果，供查询接口与离线分析使用。
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]shadow.Outcome, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var models []ShadowOutcomeModel
	if err := s.db.WithContext(ctx).
		Order("id desc").Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]shadow.Outcome, 0, len(models))
	for _, m := range models {
		out = append(out, shadow.Outcome{
			SchemaVersion: m.SchemaVersion,
			IntentID:      m.IntentID,
			Symbol:        m.Symbol,
			Kind:          m.Kind,
			HorizonMin:    m.HorizonMin,
			EntryPrice:    m.EntryPrice,
			EndPrice:      m.EndPrice,
			ReturnPct:     m.ReturnPct,
			Variant:       m.Variant,
			HitTP:         m.HitTP,
			HitSL:         m.HitSL,
			Ambiguous:     m.Ambiguous,
		})
	}
	return out, nil
}

func intentToModel(intent shadow.Intent) (ShadowIntentModel, error) {
	horizons, err := json.Marshal(intent.HorizonsMin)
	if err != nil {
		return ShadowIntentModel{}, err
	}
	evaluated, err := json.Marshal(intent.EvaluatedMin)
	if err != nil {
		return ShadowIntentModel{}, err
	}
	components, err := json.Marshal(intent.Components)
	if err != nil {
		return ShadowIntentModel{}, err
	}
	return ShadowIntentModel{
		IntentID:      intent.IntentID,
		Symbol:        intent.Symbol,
		EntryTS:       intent.EntryTS.UnixMilli(),
		EntryPrice:    intent.EntryPrice,
		Direction:     intent.Direction,
		Kind:          intent.Kind,
		Horizons:      datatypesJSON(horizons),
		Evaluated:     datatypesJSON(evaluated),
		Components:    datatypesJSON(components),
		SchemaVersion: intent.SchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func modelToIntent(m ShadowIntentModel) (shadow.Intent, error) {
	horizons, err := decodeInts(m.Horizons)
	if err != nil {
		return shadow.Intent{}, fmt.Errorf("intent %s: bad horizons: %w", m.IntentID, err)
	}
	evaluated, err := decodeInts(m.Evaluated)
	if err != nil {
		return shadow.Intent{}, fmt.Errorf("intent %s: bad evaluated: %w", m.IntentID, err)
	}
	var components []string
	if len(m.Components) > 0 {
		if err := json.Unmarshal(m.Components, &components); err != nil {
			return shadow.Intent{}, fmt.Errorf("intent %s: bad components: %w", m.IntentID, err)
		}
	}
	return shadow.Intent{
		SchemaVersion: m.SchemaVersion,
		IntentID:      m.IntentID,
		Symbol:        m.Symbol,
		EntryTS:       time.UnixMilli(m.EntryTS).UTC(),
		EntryPrice:    m.EntryPrice,
		Direction:     m.Direction,
		Kind:          m.Kind,
		HorizonsMin:   horizons,
		EvaluatedMin:  evaluated,
		Components:    components,
	}, nil
}

func datatypesJSON(raw []byte) datatypes.JSON { return datatypes.JSON(raw) }

func decodeInts(raw []byte) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
