// Package buffer holds time-indexed sample histories.
//
// Two storage strategies share one query surface (History):
//
//   - Ring: fixed capacity, allocation-free inserts, the oldest sample is
//     overwritten once full.
//   - Growable: unbounded slices, optionally trimmed to a time window.
//
// Stamps must be strictly increasing. Inserts that would break this are
// rejected with errors.ErrOutOfOrder and leave the history untouched.
//
// Every single-call query locks internally and is safe without external
// synchronization. To correlate several reads against the same window, use
// Snapshot:
//
//	err := ring.Snapshot(func(v *buffer.View[float64]) error {
//		times, data := v.Times(), v.Data()
//		...
//		return nil
//	})
//
// The producer blocks until the callback returns. Do not call methods of the
// history itself from inside the callback; use the View.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// History is the capability set shared by Ring and Growable. Consumers
// should depend on it rather than a concrete storage strategy.
type History[S types.Float] interface {
	// Insert appends a sample. stamp must be strictly after the newest one.
	Insert(stamp int64, value []S) error

	// Snapshot runs fn against a consistent view of the history.
	Snapshot(fn func(v *View[S]) error) error

	Len() int
	Dim() int
	Times() []int64
	Data() [][]S

	NearestValue(stamp int64) (int64, []S, bool)
	OldestValue() ([]S, bool)
	NewestValue() ([]S, bool)
	OldestAndNewestStamp() (newest, oldest int64, ok bool)
	BetweenValuesInterpolated(start, end int64) types.Series[S]

	RemoveDataBeforeTimestamp(stamp int64) int
	RemoveDataOlderThan(age time.Duration) int

	Stats() Stats
}

// Stats holds buffer statistics.
type Stats struct {
	Capacity   int // 0 for unbounded histories
	Count      int
	Dim        int
	UsageRatio float64

	Inserted    int64
	Rejected    int64
	Overwritten int64 // oldest samples replaced by a full ring
	Evicted     int64 // samples dropped by explicit or window eviction

	OldestStamp int64
	NewestStamp int64
}

// Span returns the time covered by the buffered samples.
func (s Stats) Span() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return Span(s.OldestStamp, s.NewestStamp)
}

// counters are updated atomically so reading stats never waits on a writer.
type counters struct {
	inserted    atomic.Int64
	rejected    atomic.Int64
	overwritten atomic.Int64
	evicted     atomic.Int64
}

// base implements everything in History except Insert on top of a store.
// The embedding type sets st to itself.
type base[S types.Float] struct {
	mu sync.RWMutex
	st store[S]
	counters
}

// checkInsert validates a pending insert. Callers hold mu for writing.
func (b *base[S]) checkInsert(stamp int64, value []S) error {
	if len(value) != b.st.dim() {
		b.rejected.Add(1)
		return errors.NewDimensionMismatch(len(value), b.st.dim())
	}
	if n := b.st.size(); n > 0 {
		if newest := b.st.stampAt(n - 1); stamp <= newest {
			b.rejected.Add(1)
			return errors.NewOutOfOrder(stamp, newest)
		}
	}
	return nil
}

// Snapshot holds the read lock while fn runs. The lock is released on every
// exit path, including a panic inside fn.
func (b *base[S]) Snapshot(fn func(v *View[S]) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v := &View[S]{st: b.st}
	defer v.release()
	return fn(v)
}

// Len returns the number of buffered samples.
func (b *base[S]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.size()
}

// Dim returns the number of components per sample.
func (b *base[S]) Dim() int {
	return b.st.dim()
}

// Times returns a copy of all stamps, oldest first.
func (b *base[S]) Times() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return (&View[S]{st: b.st}).Times()
}

// Data returns a copy of all values, oldest first.
func (b *base[S]) Data() [][]S {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return (&View[S]{st: b.st}).Data()
}

// NearestValue returns the stamp and value of the sample closest to stamp.
// Ties go to the earlier sample. Stamps outside the buffered range saturate
// to the oldest or newest sample. ok is false only when the history is empty.
func (b *base[S]) NearestValue(stamp int64) (int64, []S, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return nearestValue(b.st, stamp)
}

// OldestValue returns the oldest value, or ok=false when empty.
func (b *base[S]) OldestValue() ([]S, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return oldestValue(b.st)
}

// NewestValue returns the newest value, or ok=false when empty.
func (b *base[S]) NewestValue() ([]S, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newestValue(b.st)
}

// OldestAndNewestStamp returns both ends of the buffered range from one
// snapshot. Note the order: newest first.
func (b *base[S]) OldestAndNewestStamp() (newest, oldest int64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return oldestAndNewestStamp(b.st)
}

// BetweenValuesInterpolated returns every sample in [start, end], with
// linearly interpolated samples pinned exactly at start and end when no
// stored sample sits there. The result is empty unless
// oldest <= start <= end <= newest.
func (b *base[S]) BetweenValuesInterpolated(start, end int64) types.Series[S] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return betweenInterpolated(b.st, start, end)
}

// RemoveDataBeforeTimestamp evicts every sample with a stamp < stamp.
// Returns the number of samples evicted.
func (b *base[S]) RemoveDataBeforeTimestamp(stamp int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictBefore(stamp)
}

// RemoveDataOlderThan keeps only samples within age of the newest one,
// i.e. the window [newest-age, newest]. The newest sample always stays; a
// negative age counts as zero. Returns the number evicted.
func (b *base[S]) RemoveDataOlderThan(age time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.st.size()
	if n == 0 {
		return 0
	}
	return b.evictBefore(windowStart(b.st.stampAt(n-1), age))
}

func (b *base[S]) evictBefore(stamp int64) int {
	k := lowerBound(b.st, stamp)
	if k > 0 {
		b.st.dropFront(k)
		b.evicted.Add(int64(k))
	}
	return k
}

func (b *base[S]) stats(capacity int) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Capacity:    capacity,
		Count:       b.st.size(),
		Dim:         b.st.dim(),
		Inserted:    b.inserted.Load(),
		Rejected:    b.rejected.Load(),
		Overwritten: b.overwritten.Load(),
		Evicted:     b.evicted.Load(),
	}
	if capacity > 0 {
		s.UsageRatio = float64(s.Count) / float64(capacity)
	}
	if s.Count > 0 {
		s.OldestStamp = b.st.stampAt(0)
		s.NewestStamp = b.st.stampAt(s.Count - 1)
	}
	return s
}
