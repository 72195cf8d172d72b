package types

import "time"

// ComponentStats holds statistics for one vector component over a window.
type ComponentStats struct {
	Sum float64
	Min float64
	Max float64
	Avg float64

	// Percentiles (nil if not enabled)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// HasPercentiles returns true if percentile data is available.
func (c *ComponentStats) HasPercentiles() bool {
	return c.P50 != nil
}

// SetPercentiles sets all percentile values.
func (c *ComponentStats) SetPercentiles(p50, p90, p95, p99 float64) {
	c.P50 = &p50
	c.P90 = &p90
	c.P95 = &p95
	c.P99 = &p99
}

// AggregateResult summarizes a window of samples.
type AggregateResult struct {
	// Window bounds in nanoseconds
	WindowStart int64
	WindowEnd   int64

	// Count is the number of samples that contributed.
	Count int64

	// Components holds one entry per dimension.
	Components []ComponentStats

	// Interval summarizes the gaps between consecutive stamps, in nanoseconds.
	Interval ComponentStats

	// Stamps of the first and last contributing sample
	FirstTs int64
	LastTs  int64
}

// Duration returns the window duration.
func (a *AggregateResult) Duration() time.Duration {
	return time.Duration(a.WindowEnd - a.WindowStart)
}

// IsEmpty returns true if no samples were aggregated.
func (a *AggregateResult) IsEmpty() bool {
	return a.Count == 0
}

// Rate returns the mean sample rate in Hz, or 0 with fewer than two samples.
func (a *AggregateResult) Rate() float64 {
	if a.Count < 2 || a.LastTs <= a.FirstTs {
		return 0
	}
	return float64(a.Count-1) / NanosecToSec(a.LastTs-a.FirstTs)
}
