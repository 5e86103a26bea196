// Package decimal holds the money helpers shared by the model, the codec
// and the validators. Amounts are rounded half away from zero to cents.
package decimal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// Tolerance is the largest difference accepted between two amounts that
// should be equal (one cent).
var Tolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// FromAny converts loosely typed input (string, float, int, json.Number)
// into a decimal. nil yields zero.
func FromAny(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return Zero, nil
	case decimal.Decimal:
		return x, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return Zero, nil
		}
		return FromString(x)
	case json.Number:
		return FromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint:
		return decimal.NewFromInt(int64(x)), nil
	default:
		return Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// Format renders an amount with exactly two decimals
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CalculateTax computes amount * (percent/100) rounded to cents
func CalculateTax(amount, percent decimal.Decimal) decimal.Decimal {
	if percent.IsZero() {
		return Zero
	}
	return amount.Mul(percent).Div(hundred).Round(2)
}

// WithinTolerance reports whether |a-b| <= Tolerance
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Exceeds reports whether a is greater than b by more than Tolerance
func Exceeds(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThan(Tolerance)
}
