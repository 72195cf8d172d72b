package aggregate

import (
	"github.com/xtxerr/timering/internal/storage/buffer"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Summarize aggregates the interpolated range [start, end] of a history.
// Boundary samples are interpolated exactly as BetweenValuesInterpolated
// returns them. ok is false when the range is not inside the buffered span.
func Summarize[S types.Float](h buffer.History[S], start, end int64, accuracy float64) (types.AggregateResult, bool) {
	series := h.BetweenValuesInterpolated(start, end)
	if series.IsEmpty() {
		return types.AggregateResult{}, false
	}

	agg := NewWithAccuracy(h.Dim(), start, end, accuracy)
	addSeries(agg, series)
	return agg.Result(), true
}

// SummarizeAll aggregates every buffered sample from one snapshot. ok is
// false when the history is empty.
func SummarizeAll[S types.Float](h buffer.History[S], accuracy float64) (types.AggregateResult, bool) {
	var (
		result types.AggregateResult
		ok     bool
	)
	_ = h.Snapshot(func(v *buffer.View[S]) error {
		newest, oldest, found := v.OldestAndNewestStamp()
		if !found {
			return nil
		}
		agg := NewWithAccuracy(v.Dim(), oldest, newest, accuracy)
		addSeries(agg, v.Range(0, v.Len()))
		result, ok = agg.Result(), true
		return nil
	})
	return result, ok
}

func addSeries[S types.Float](agg *WindowAggregate, s types.Series[S]) {
	value := make([]float64, agg.Dim())
	for i, stamp := range s.Stamps {
		for c, v := range s.Values[i] {
			value[c] = float64(v)
		}
		// Dimensions match by construction.
		_ = agg.Add(stamp, value)
	}
}
