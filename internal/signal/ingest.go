package signal

import (
	"fmt"
	"strings"
	"time"

	"arbiter/internal/logger"
	"arbiter/internal/pkg/convert"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Batch 是富集器单轮推送的全量信号：每个标的一组分量 + 参考价。
type Batch struct {
	AsOf     time.Time
	Degraded bool
	Symbols  map[string]SymbolSignals
}

// SymbolSignals 是单个标的的原始分量集合，值允许嵌套/畸形，由聚合器兜底折算。
type SymbolSignals struct {
	Price      float64
	Components map[string]any
}

const batchSchemaJSON = `{
	"type": "object",
	"required": ["symbols"],
	"properties": {
		"schema_version": {"type": "number"},
		"as_of": {"type": "string"},
		"symbols": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["components"],
				"properties": {
					"price": {"type": "number"},
					"components": {"type": "object"}
				}
			}
		}
	}
}`

var batchSchema = jsonschema.MustCompileString("signal_batch.json", batchSchemaJSON)

// ParseBatch 解析富集器推送的 JSON。schema 违例只降级（Degraded=true），
// 逐字段 best-effort 提取，从不因为单个坏值失败。
func ParseBatch(raw []byte) (Batch, error) {
	batch := Batch{Symbols: map[string]SymbolSignals{}}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return batch, fmt.Errorf("signal batch is empty")
	}
	if !gjson.Valid(text) {
		return batch, fmt.Errorf("signal batch is not valid json")
	}
	parsed := gjson.Parse(text)

	if doc := parsed.Value(); doc != nil {
		if err := batchSchema.Validate(doc); err != nil {
			batch.Degraded = true
			logger.Warnf("signal batch failed schema validation, continuing best-effort: %v", err)
		}
	}

	if asOf := parsed.Get("as_of"); asOf.Exists() {
		if ts, err := time.Parse(time.RFC3339, asOf.String()); err == nil {
			batch.AsOf = ts
		}
	}
	if batch.AsOf.IsZero() {
		batch.AsOf = time.Now().UTC()
	}

	parsed.Get("symbols").ForEach(func(key, value gjson.Result) bool {
		symbol := strings.ToUpper(strings.TrimSpace(key.String()))
		if symbol == "" {
			return true
		}
		sig := SymbolSignals{Components: map[string]any{}}
		sig.Price = convert.ToFloat64(value.Get("price").Value())
		value.Get("components").ForEach(func(name, comp gjson.Result) bool {
			n := strings.TrimSpace(name.String())
			if n == "" {
				return true
			}
			sig.Components[n] = comp.Value()
			return true
		})
		batch.Symbols[symbol] = sig
		return true
	})
	return batch, nil
}
