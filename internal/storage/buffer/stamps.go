package buffer

import (
	"math"
	"time"
)

// Stamps may use the whole int64 range, so differences between them are
// taken in uint64.

// distance returns b-a for a <= b. It is exact for any pair of stamps.
func distance(a, b int64) uint64 {
	return uint64(b) - uint64(a)
}

// windowStart returns newest-age, saturating at math.MinInt64. A negative
// age counts as zero.
func windowStart(newest int64, age time.Duration) int64 {
	if age <= 0 {
		return newest
	}
	if newest < math.MinInt64+int64(age) {
		return math.MinInt64
	}
	return newest - int64(age)
}

// Span returns the time between two stamps with oldest <= newest,
// saturating at the largest Duration.
func Span(oldest, newest int64) time.Duration {
	d := distance(oldest, newest)
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
