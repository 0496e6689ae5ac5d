// Package decimalx wraps shopspring/decimal comparisons for score and price
// thresholds where raw float comparisons are fragile at the boundary.
package decimalx

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne      = decimal.NewFromInt(1)
	decimalZero = decimal.Zero
)

func FromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func ToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func Compare(a, b float64) int {
	return FromFloat(a).Cmp(FromFloat(b))
}

func LTE(a, b float64) bool { return Compare(a, b) <= 0 }
func GTE(a, b float64) bool { return Compare(a, b) >= 0 }
func LT(a, b float64) bool  { return Compare(a, b) < 0 }
func GT(a, b float64) bool  { return Compare(a, b) > 0 }

// RelativeTarget returns entry adjusted by pct in the profitable direction for
// the given side ("long" adds, "short" subtracts).
func RelativeTarget(entry, pct float64, side string) float64 {
	if entry <= 0 {
		return 0
	}
	base := FromFloat(entry)
	pctDec := FromFloat(pct)
	var factor decimal.Decimal
	switch side {
	case "short":
		factor = decOne.Sub(pctDec)
	default:
		factor = decOne.Add(pctDec)
	}
	return ToFloat(base.Mul(factor))
}

// AdverseTarget returns entry adjusted by pct in the losing direction.
func AdverseTarget(entry, pct float64, side string) float64 {
	switch side {
	case "short":
		return RelativeTarget(entry, pct, "long")
	default:
		return RelativeTarget(entry, pct, "short")
	}
}
