package buffer

import (
	"sort"

	"github.com/xtxerr/timering/internal/storage/types"
)

// store is the storage strategy behind a history: logical, oldest-first
// access to strictly increasing stamps. Implementations are not locked;
// callers hold the owning history's mutex.
type store[S types.Float] interface {
	size() int
	dim() int
	stampAt(i int) int64
	// valueAt aliases the backing storage and must be copied before it
	// leaves the package.
	valueAt(i int) []S
	dropFront(k int)
}

// The functions below are the query algorithms shared by Ring and Growable.
// They all rely on stamps being strictly increasing.

func lowerBound[S types.Float](st store[S], stamp int64) int {
	return sort.Search(st.size(), func(i int) bool {
		return st.stampAt(i) >= stamp
	})
}

// upperBound returns the first logical index with a stamp > stamp.
func upperBound[S types.Float](st store[S], stamp int64) int {
	return sort.Search(st.size(), func(i int) bool {
		return st.stampAt(i) > stamp
	})
}

func equalOrBefore[S types.Float](st store[S], stamp int64) (int, bool) {
	i := upperBound(st, stamp) - 1
	if i < 0 {
		return -1, false
	}
	return i, true
}

func equalOrAfter[S types.Float](st store[S], stamp int64) (int, bool) {
	n := st.size()
	i := lowerBound(st, stamp)
	if i == n {
		return n, false
	}
	return i, true
}

// nearest picks whichever neighbour of stamp is closer, preferring the
// earlier one on a tie, and saturates at both ends.
func nearest[S types.Float](st store[S], stamp int64) (int, bool) {
	n := st.size()
	if n == 0 {
		return -1, false
	}

	after := lowerBound(st, stamp)
	switch {
	case after == n:
		return n - 1, true
	case after == 0, st.stampAt(after) == stamp:
		return after, true
	}

	before := after - 1
	if distance(st.stampAt(before), stamp) <= distance(stamp, st.stampAt(after)) {
		return before, true
	}
	return after, true
}

func cloneValue[S types.Float](st store[S], i int) []S {
	src := st.valueAt(i)
	out := make([]S, len(src))
	copy(out, src)
	return out
}

// interpolate evaluates the line through samples i0 and i1 at stamp,
// component by component, in float64.
func interpolate[S types.Float](st store[S], i0, i1 int, stamp int64) []S {
	t0, t1 := st.stampAt(i0), st.stampAt(i1)
	v0, v1 := st.valueAt(i0), st.valueAt(i1)
	frac := float64(distance(t0, stamp)) / float64(distance(t0, t1))

	out := make([]S, len(v0))
	for c := range v0 {
		a, b := float64(v0[c]), float64(v1[c])
		out[c] = S(a + frac*(b-a))
	}
	return out
}

// betweenInterpolated returns [start, end] with both boundaries pinned to the
// query stamps. Requests not fully inside [oldest, newest] yield an empty
// series.
func betweenInterpolated[S types.Float](st store[S], start, end int64) types.Series[S] {
	n := st.size()
	if n == 0 || start > end || start < st.stampAt(0) || end > st.stampAt(n-1) {
		return types.Series[S]{}
	}

	lo := lowerBound(st, start)
	hi := upperBound(st, end) - 1
	out := types.NewSeries[S](hi - lo + 3)

	// lo > 0 whenever start is not stored, since start >= oldest.
	if st.stampAt(lo) == start {
		out.Append(start, cloneValue(st, lo))
		lo++
	} else {
		out.Append(start, interpolate(st, lo-1, lo, start))
	}
	if start == end {
		return out
	}

	endStored := st.stampAt(hi) == end
	last := hi
	if endStored {
		last--
	}
	for i := lo; i <= last; i++ {
		out.Append(st.stampAt(i), cloneValue(st, i))
	}

	// hi < n-1 whenever end is not stored, since end <= newest.
	if endStored {
		out.Append(end, cloneValue(st, hi))
	} else {
		out.Append(end, interpolate(st, hi, hi+1, end))
	}
	return out
}

// copyRange copies logical samples [from, to) into a series.
func copyRange[S types.Float](st store[S], from, to int) types.Series[S] {
	if from < 0 {
		from = 0
	}
	if n := st.size(); to > n {
		to = n
	}
	if from >= to {
		return types.Series[S]{}
	}
	out := types.NewSeries[S](to - from)
	for i := from; i < to; i++ {
		out.Append(st.stampAt(i), cloneValue(st, i))
	}
	return out
}
