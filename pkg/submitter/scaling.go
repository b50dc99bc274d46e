package submitter

import (
	"math"

	"github.com/shopspring/decimal"
)

// The on-chain API takes prices as integers in 1e8 units.
const scaleFactor = 100_000_000

// MaxSafePrice is the largest price whose scaled form fits in an int64:
// (2^63 - 1) / 1e8.
var MaxSafePrice = decimal.New(math.MaxInt64, 0).Div(decimal.NewFromInt(scaleFactor))

var maxScaled = decimal.New(math.MaxInt64, 0)

// ScalePrice converts a decimal price to its on-chain integer form.
// The second return reports whether the value was clamped at the upper
// bound. Non-positive prices scale to 0 and must be skipped by the
// caller.
func ScalePrice(price decimal.Decimal) (int64, bool) {
	if price.Sign() <= 0 {
		return 0, false
	}
	scaled := price.Mul(decimal.NewFromInt(scaleFactor)).Round(0)
	if scaled.GreaterThan(maxScaled) {
		return math.MaxInt64, true
	}
	return scaled.IntPart(), false
}

// DescalePrice converts an on-chain integer back to a decimal price.
func DescalePrice(scaled int64) decimal.Decimal {
	return decimal.NewFromInt(scaled).Div(decimal.NewFromInt(scaleFactor))
}
