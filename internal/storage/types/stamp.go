package types

import (
	"math"
	"time"
)

// Nanoseconds per second.
const nanosPerSec = 1e9

// SecToNanosec converts seconds to a nanosecond stamp, rounding to the
// nearest nanosecond.
func SecToNanosec(sec float64) int64 {
	return int64(math.Round(sec * nanosPerSec))
}

// NanosecToSec converts a nanosecond stamp to seconds.
func NanosecToSec(ns int64) float64 {
	return float64(ns) / nanosPerSec
}

// SecToNanosecChecked is SecToNanosec for untrusted input. ok is false when
// sec is NaN, infinite or outside the int64 nanosecond range.
func SecToNanosecChecked(sec float64) (int64, bool) {
	ns := math.Round(sec * nanosPerSec)
	if math.IsNaN(ns) || ns < math.MinInt64 || ns >= math.MaxInt64 {
		return 0, false
	}
	return int64(ns), true
}

// StampFromTime converts a time.Time to a nanosecond stamp.
func StampFromTime(t time.Time) int64 {
	return t.UnixNano()
}

// StampToTime converts a nanosecond stamp to a time.Time.
func StampToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
