package testutil

import (
	"time"

	"github.com/xtxerr/timering/internal/storage/types"
)

// Ramp returns n samples spaced step apart starting at start. Every
// component of sample i equals its stamp in seconds, which makes
// interpolated values easy to predict.
func Ramp(start time.Time, step time.Duration, n, dim int) []types.Sample[float64] {
	out := make([]types.Sample[float64], n)
	for i := range out {
		stamp := start.Add(time.Duration(i) * step).UnixNano()
		v := make([]float64, dim)
		for c := range v {
			v[c] = types.NanosecToSec(stamp)
		}
		out[i] = types.Sample[float64]{Stamp: stamp, Value: v}
	}
	return out
}

// RampSeconds is Ramp starting at the Unix epoch with a one second step, so
// sample i has stamp i seconds and value i.
func RampSeconds(n, dim int) []types.Sample[float64] {
	return Ramp(time.Unix(0, 0), time.Second, n, dim)
}
