package parquet

import (
	"sort"

	"github.com/xtxerr/timering/internal/storage/types"
)

// SampleRow represents a sample in Parquet format.
type SampleRow struct {
	Stream  string    `parquet:"stream,dict,zstd"`
	StampNs int64     `parquet:"stamp_ns"`
	Values  []float64 `parquet:"values,list"`
}

// IntervalComponent marks the aggregate row that summarizes stamp gaps.
const IntervalComponent = -1

// AggregateRow represents one component of a window aggregate in Parquet
// format. Component is IntervalComponent for the stamp gap summary.
type AggregateRow struct {
	Stream      string   `parquet:"stream,dict,zstd"`
	WindowStart int64    `parquet:"window_start"`
	WindowEnd   int64    `parquet:"window_end"`
	Component   int32    `parquet:"component"`
	Count       int64    `parquet:"count"`
	Sum         float64  `parquet:"sum"`
	Min         float64  `parquet:"min"`
	Max         float64  `parquet:"max"`
	Avg         float64  `parquet:"avg"`
	P50         *float64 `parquet:"p50,optional"`
	P90         *float64 `parquet:"p90,optional"`
	P95         *float64 `parquet:"p95,optional"`
	P99         *float64 `parquet:"p99,optional"`
	FirstTs     int64    `parquet:"first_ts"`
	LastTs      int64    `parquet:"last_ts"`
}

// SampleToRow converts a Sample to a SampleRow.
func SampleToRow[S types.Float](stream string, s types.Sample[S]) SampleRow {
	values := make([]float64, len(s.Value))
	for i, v := range s.Value {
		values[i] = float64(v)
	}
	return SampleRow{Stream: stream, StampNs: s.Stamp, Values: values}
}

// RowToSample converts a SampleRow to a Sample.
func RowToSample(r *SampleRow) types.Sample[float64] {
	return types.NewSample(r.StampNs, r.Values...)
}

// AggregateToRows converts an AggregateResult to one row per component plus
// one interval row.
func AggregateToRows(stream string, a *types.AggregateResult) []AggregateRow {
	rows := make([]AggregateRow, 0, len(a.Components)+1)
	for c := range a.Components {
		rows = append(rows, componentRow(stream, a, int32(c), &a.Components[c]))
	}
	return append(rows, componentRow(stream, a, IntervalComponent, &a.Interval))
}

func componentRow(stream string, a *types.AggregateResult, component int32, s *types.ComponentStats) AggregateRow {
	return AggregateRow{
		Stream:      stream,
		WindowStart: a.WindowStart,
		WindowEnd:   a.WindowEnd,
		Component:   component,
		Count:       a.Count,
		Sum:         s.Sum,
		Min:         s.Min,
		Max:         s.Max,
		Avg:         s.Avg,
		P50:         s.P50,
		P90:         s.P90,
		P95:         s.P95,
		P99:         s.P99,
		FirstTs:     a.FirstTs,
		LastTs:      a.LastTs,
	}
}

// StreamAggregate is a window aggregate read back from Parquet.
type StreamAggregate struct {
	Stream string
	Result types.AggregateResult
}

// RowsToAggregates groups component rows back into aggregates, ordered by
// stream and window start.
func RowsToAggregates(rows []AggregateRow) []StreamAggregate {
	type key struct {
		stream string
		start  int64
	}
	byKey := make(map[key]*StreamAggregate)
	var keys []key

	for i := range rows {
		r := &rows[i]
		k := key{r.Stream, r.WindowStart}
		agg, ok := byKey[k]
		if !ok {
			agg = &StreamAggregate{
				Stream: r.Stream,
				Result: types.AggregateResult{
					WindowStart: r.WindowStart,
					WindowEnd:   r.WindowEnd,
					Count:       r.Count,
					FirstTs:     r.FirstTs,
					LastTs:      r.LastTs,
				},
			}
			byKey[k] = agg
			keys = append(keys, k)
		}

		stats := types.ComponentStats{
			Sum: r.Sum, Min: r.Min, Max: r.Max, Avg: r.Avg,
			P50: r.P50, P90: r.P90, P95: r.P95, P99: r.P99,
		}
		if r.Component == IntervalComponent {
			agg.Result.Interval = stats
			continue
		}
		for int(r.Component) >= len(agg.Result.Components) {
			agg.Result.Components = append(agg.Result.Components, types.ComponentStats{})
		}
		agg.Result.Components[r.Component] = stats
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].stream != keys[j].stream {
			return keys[i].stream < keys[j].stream
		}
		return keys[i].start < keys[j].start
	})

	out := make([]StreamAggregate, len(keys))
	for i, k := range keys {
		out[i] = *byKey[k]
	}
	return out
}
