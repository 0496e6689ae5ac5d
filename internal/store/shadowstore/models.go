package shadowstore

import (
	"time"

	"gorm.io/datatypes"
)

// ShadowIntentModel 是 shadow_intents 表结构。Horizons/Evaluated/Components
// 以 JSON 列存储，与 trace 侧的 schema_version 约定一致。
type ShadowIntentModel struct {
	IntentID      string         `gorm:"column:intent_id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	EntryTS       int64          `gorm:"column:entry_ts;index"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	Direction     string         `gorm:"column:direction"`
	Kind          string         `gorm:"column:kind"`
	Horizons      datatypes.JSON `gorm:"column:horizons"`
	Evaluated     datatypes.JSON `gorm:"column:evaluated"`
	Components    datatypes.JSON `gorm:"column:components"`
	SchemaVersion int            `gorm:"column:schema_version"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (ShadowIntentModel) TableName() string { return "shadow_intents" }

// ShadowOutcomeModel 是 shadow_outcomes 表结构。(intent_id, horizon, variant)
// 唯一索引保证重复评估不落重复行。
type ShadowOutcomeModel struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	IntentID      string  `gorm:"column:intent_id;uniqueIndex:uniq_outcome_cell,priority:1"`
	HorizonMin    int     `gorm:"column:horizon_min;uniqueIndex:uniq_outcome_cell,priority:2"`
	Variant       string  `gorm:"column:variant;uniqueIndex:uniq_outcome_cell,priority:3"`
	Symbol        string  `gorm:"column:symbol;index"`
	Kind          string  `gorm:"column:kind"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	EndPrice      float64 `gorm:"column:end_price"`
	ReturnPct     float64 `gorm:"column:return_pct"`
	HitTP         bool    `gorm:"column:hit_tp"`
	HitSL         bool    `gorm:"column:hit_sl"`
	Ambiguous     bool    `gorm:"column:ambiguous"`
	SchemaVersion int     `gorm:"column:schema_version"`
	CreatedAt     time.Time `gorm:"column:created_at;index"`
}

func (ShadowOutcomeModel) TableName() string { return "shadow_outcomes" }
