package assets

import (
	"math"
	"strconv"
	"strings"
)

// NormalizeCoord formats v with a fixed number of decimals so that near-duplicate
// coordinates map to the same cache key. Non-finite values are rejected.
func NormalizeCoord(v float64, precision int) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	if precision < 0 {
		precision = DefaultPrecision
	}

	s := strconv.FormatFloat(v, 'f', precision, 64)
	// -0.00000 and 0.00000 are the same key
	if strings.Trim(s, "-0.") == "" {
		s = strings.TrimPrefix(s, "-")
	}
	return s, true
}
