package buffer

import (
	"github.com/xtxerr/timering/internal/storage/types"
)

// View is a read-only, consistent view of a history, valid only for the
// duration of the Snapshot callback that received it. Producers block until
// the callback returns, so every call on one View sees the same window.
//
// All returned values are copies.
type View[S types.Float] struct {
	st store[S]
}

func (v *View[S]) store() store[S] {
	if v.st == nil {
		panic("buffer: View used outside its Snapshot callback")
	}
	return v.st
}

func (v *View[S]) release() {
	v.st = nil
}

// Len returns the number of samples in the window.
func (v *View[S]) Len() int {
	return v.store().size()
}

// Dim returns the number of components per sample.
func (v *View[S]) Dim() int {
	return v.store().dim()
}

// Stamp returns the stamp at logical index i (0 = oldest).
func (v *View[S]) Stamp(i int) int64 {
	return v.store().stampAt(i)
}

// Value returns a copy of the value at logical index i.
func (v *View[S]) Value(i int) []S {
	return cloneValue(v.store(), i)
}

// At returns the sample at logical index i.
func (v *View[S]) At(i int) types.Sample[S] {
	st := v.store()
	return types.Sample[S]{Stamp: st.stampAt(i), Value: cloneValue(st, i)}
}

// Times returns all stamps, oldest first.
func (v *View[S]) Times() []int64 {
	st := v.store()
	out := make([]int64, st.size())
	for i := range out {
		out[i] = st.stampAt(i)
	}
	return out
}

// Data returns all values, oldest first, index-aligned with Times.
func (v *View[S]) Data() [][]S {
	st := v.store()
	out := make([][]S, st.size())
	for i := range out {
		out[i] = cloneValue(st, i)
	}
	return out
}

// Range copies logical samples [from, to), clamped to the window.
func (v *View[S]) Range(from, to int) types.Series[S] {
	return copyRange(v.store(), from, to)
}

// LowerBound returns the first logical index whose stamp is >= stamp, or
// Len() when every stamp is older.
func (v *View[S]) LowerBound(stamp int64) int {
	return lowerBound(v.store(), stamp)
}

// EqualOrBefore returns the index of the newest sample at or before stamp.
// ok is false (and the index -1) when stamp predates the oldest sample.
func (v *View[S]) EqualOrBefore(stamp int64) (int, bool) {
	return equalOrBefore(v.store(), stamp)
}

// EqualOrAfter returns the index of the oldest sample at or after stamp.
// ok is false (and the index Len()) when stamp is newer than the newest sample.
func (v *View[S]) EqualOrAfter(stamp int64) (int, bool) {
	return equalOrAfter(v.store(), stamp)
}

// NearestValue returns the sample closest in time to stamp.
func (v *View[S]) NearestValue(stamp int64) (int64, []S, bool) {
	return nearestValue(v.store(), stamp)
}

// OldestValue returns the oldest value.
func (v *View[S]) OldestValue() ([]S, bool) {
	return oldestValue(v.store())
}

// NewestValue returns the newest value.
func (v *View[S]) NewestValue() ([]S, bool) {
	return newestValue(v.store())
}

// OldestAndNewestStamp returns the stamps bounding the window.
func (v *View[S]) OldestAndNewestStamp() (newest, oldest int64, ok bool) {
	return oldestAndNewestStamp(v.store())
}

// BetweenValuesInterpolated returns [start, end] with interpolated boundaries.
func (v *View[S]) BetweenValuesInterpolated(start, end int64) types.Series[S] {
	return betweenInterpolated(v.store(), start, end)
}

func nearestValue[S types.Float](st store[S], stamp int64) (int64, []S, bool) {
	i, ok := nearest(st, stamp)
	if !ok {
		return 0, nil, false
	}
	return st.stampAt(i), cloneValue(st, i), true
}

func oldestValue[S types.Float](st store[S]) ([]S, bool) {
	if st.size() == 0 {
		return nil, false
	}
	return cloneValue(st, 0), true
}

func newestValue[S types.Float](st store[S]) ([]S, bool) {
	n := st.size()
	if n == 0 {
		return nil, false
	}
	return cloneValue(st, n-1), true
}

func oldestAndNewestStamp[S types.Float](st store[S]) (newest, oldest int64, ok bool) {
	n := st.size()
	if n == 0 {
		return 0, 0, false
	}
	return st.stampAt(n - 1), st.stampAt(0), true
}
