// Package aggregate summarizes windows of vector samples: count, per
// component sum/min/max/avg, and optional DDSketch percentiles, plus the
// distribution of gaps between consecutive stamps.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// stat holds running statistics for one scalar stream.
type stat struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch // nil if percentiles are disabled
}

func newStat(accuracy float64) *stat {
	s := &stat{min: math.MaxFloat64, max: -math.MaxFloat64}
	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}
	return s
}

func (s *stat) add(v float64) {
	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.sketch != nil {
		// Values outside the sketch's indexable range only miss the percentiles.
		_ = s.sketch.Add(v)
	}
}

func (s *stat) merge(o *stat) {
	if o.count == 0 {
		return
	}
	s.count += o.count
	s.sum += o.sum
	if o.min < s.min {
		s.min = o.min
	}
	if o.max > s.max {
		s.max = o.max
	}
	if s.sketch != nil && o.sketch != nil {
		_ = s.sketch.MergeWith(o.sketch)
	}
}

func (s *stat) result() types.ComponentStats {
	var r types.ComponentStats
	if s.count == 0 {
		return r
	}
	r.Sum = s.sum
	r.Min = s.min
	r.Max = s.max
	r.Avg = s.sum / float64(s.count)

	if s.sketch != nil && !s.sketch.IsEmpty() {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p95, _ := s.sketch.GetValueAtQuantile(0.95)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		r.SetPercentiles(p50, p90, p95, p99)
	}
	return r
}

// WindowAggregate maintains running statistics for a window of samples of
// a fixed dimension. It is safe for concurrent use.
type WindowAggregate struct {
	mu sync.Mutex

	// Window bounds in nanoseconds
	windowStart int64
	windowEnd   int64

	dim      int
	accuracy float64 // 0 disables percentiles

	count      int64
	components []*stat
	interval   *stat
	firstTs    int64
	lastTs     int64
}

// New creates a WindowAggregate for samples of dim components covering
// [windowStart, windowEnd). Percentiles use a 1% relative accuracy when
// enabled.
func New(dim int, windowStart, windowEnd int64, enablePercentile bool) *WindowAggregate {
	accuracy := 0.0
	if enablePercentile {
		accuracy = 0.01
	}
	return NewWithAccuracy(dim, windowStart, windowEnd, accuracy)
}

// NewWithAccuracy creates a WindowAggregate with custom percentile accuracy.
// accuracy <= 0 disables percentiles.
func NewWithAccuracy(dim int, windowStart, windowEnd int64, accuracy float64) *WindowAggregate {
	a := &WindowAggregate{
		windowStart: windowStart,
		windowEnd:   windowEnd,
		dim:         dim,
		accuracy:    accuracy,
	}
	a.resetStats()
	return a
}

func (a *WindowAggregate) resetStats() {
	a.count = 0
	a.firstTs = 0
	a.lastTs = 0
	a.components = make([]*stat, a.dim)
	for i := range a.components {
		a.components[i] = newStat(a.accuracy)
	}
	a.interval = newStat(a.accuracy)
}

// Add adds one sample. Gaps are measured between consecutive added stamps,
// so samples should arrive in stamp order.
func (a *WindowAggregate) Add(stamp int64, value []float64) error {
	if len(value) != a.dim {
		return errors.NewDimensionMismatch(len(value), a.dim)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 {
		a.firstTs = stamp
	} else {
		if stamp > a.lastTs {
			a.interval.add(float64(uint64(stamp) - uint64(a.lastTs)))
		}
		if stamp < a.firstTs {
			a.firstTs = stamp
		}
	}
	if a.count == 0 || stamp > a.lastTs {
		a.lastTs = stamp
	}
	a.count++

	for c, v := range value {
		a.components[c].add(v)
	}
	return nil
}

// AddSample adds a sample to the aggregate.
func (a *WindowAggregate) AddSample(s types.Sample[float64]) error {
	return a.Add(s.Stamp, s.Value)
}

// AddSeries adds every sample of a series in order.
func (a *WindowAggregate) AddSeries(s types.Series[float64]) error {
	for i := range s.Stamps {
		if err := a.Add(s.Stamps[i], s.Values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of samples added.
func (a *WindowAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no samples have been added.
func (a *WindowAggregate) IsEmpty() bool {
	return a.Count() == 0
}

// Dim returns the sample dimension.
func (a *WindowAggregate) Dim() int {
	return a.dim
}

// Result returns the aggregation result.
func (a *WindowAggregate) Result() types.AggregateResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := types.AggregateResult{
		WindowStart: a.windowStart,
		WindowEnd:   a.windowEnd,
		Count:       a.count,
		Components:  make([]types.ComponentStats, a.dim),
		Interval:    a.interval.result(),
		FirstTs:     a.firstTs,
		LastTs:      a.lastTs,
	}
	for c, s := range a.components {
		result.Components[c] = s.result()
	}
	return result
}

// Reset clears the aggregate for a new window.
func (a *WindowAggregate) Reset(windowStart, windowEnd int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowStart = windowStart
	a.windowEnd = windowEnd
	a.resetStats()
}

// Merge combines another aggregate of the same dimension into this one.
// The gap between the two windows is not counted as an interval.
func (a *WindowAggregate) Merge(other *WindowAggregate) error {
	if other == nil || other == a {
		return nil
	}
	if other.dim != a.dim {
		return errors.NewDimensionMismatch(other.dim, a.dim)
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	if other.count == 0 {
		return nil
	}

	if a.count == 0 || other.firstTs < a.firstTs {
		a.firstTs = other.firstTs
	}
	if a.count == 0 || other.lastTs > a.lastTs {
		a.lastTs = other.lastTs
	}
	a.count += other.count

	for c := range a.components {
		a.components[c].merge(other.components[c])
	}
	a.interval.merge(other.interval)

	if other.windowStart < a.windowStart {
		a.windowStart = other.windowStart
	}
	if other.windowEnd > a.windowEnd {
		a.windowEnd = other.windowEnd
	}
	return nil
}

// WindowStart returns the window start stamp.
func (a *WindowAggregate) WindowStart() int64 {
	return a.windowStart
}

// WindowEnd returns the window end stamp.
func (a *WindowAggregate) WindowEnd() int64 {
	return a.windowEnd
}

// WindowDuration returns the window duration.
func (a *WindowAggregate) WindowDuration() time.Duration {
	return time.Duration(a.windowEnd - a.windowStart)
}
