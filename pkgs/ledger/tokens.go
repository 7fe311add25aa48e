package ledger

import "math"

// DefaultTokenScale mints one token unit per kilogram of CO2-equivalent
const DefaultTokenScale = 1000

// TokensForOffset converts an offset in tons to integer token units,
// rounding once to the nearest integer. Negative and non-finite offsets
// yield 0.
func TokensForOffset(tons float64, scale int64) int64 {
	if scale <= 0 {
		scale = DefaultTokenScale
	}
	if math.IsNaN(tons) || math.IsInf(tons, 0) || tons <= 0 {
		return 0
	}
	v := math.Round(tons * float64(scale))
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
