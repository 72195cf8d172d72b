package buffer

import (
	"math"
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

func sec(s float64) int64 {
	return types.SecToNanosec(s)
}

// fillSeconds inserts one sample per stamp (in seconds) with every component
// equal to the stamp in seconds.
func fillSeconds(t testing.TB, h History[float64], stamps ...float64) {
	t.Helper()
	for _, s := range stamps {
		v := make([]float64, h.Dim())
		for c := range v {
			v[c] = s
		}
		if err := h.Insert(sec(s), v); err != nil {
			t.Fatalf("insert %v: %v", s, err)
		}
	}
}

// fillRaw inserts stamps as-is with every component equal to the stamp.
func fillRaw(t testing.TB, h History[float64], from, to int64) {
	t.Helper()
	for s := from; s <= to; s++ {
		v := make([]float64, h.Dim())
		for c := range v {
			v[c] = float64(s)
		}
		if err := h.Insert(s, v); err != nil {
			t.Fatalf("insert %d: %v", s, err)
		}
	}
}

func secondsRange(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRing_New(t *testing.T) {
	r, err := New[float64](3, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Cap() != 10 {
		t.Errorf("expected capacity=10, got %d", r.Cap())
	}
	if r.Dim() != 3 {
		t.Errorf("expected dim=3, got %d", r.Dim())
	}
	if r.Len() != 0 {
		t.Errorf("new ring should be empty, got len=%d", r.Len())
	}
	if r.IsFull() {
		t.Error("new ring should not be full")
	}
}

func TestRing_NewInvalid(t *testing.T) {
	if _, err := New[float64](3, 0); !errors.Is(err, errors.ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := New[float64](0, 10); !errors.Is(err, errors.ErrInvalidDimension) {
		t.Errorf("expected ErrInvalidDimension, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustNew should panic on invalid capacity")
		}
	}()
	MustNew[float32](1, -1)
}

func TestRing_Filling(t *testing.T) {
	r := MustNew[float64](2, 10)

	for k := int64(1); k <= 10; k++ {
		if err := r.Insert(k*100, []float64{float64(k), 0}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}

		times := r.Times()
		if int64(len(times)) != k {
			t.Fatalf("after %d inserts expected len=%d, got %d", k, k, len(times))
		}
		for i, ts := range times {
			if want := int64(i+1) * 100; ts != want {
				t.Errorf("after %d inserts times[%d]=%d, want %d", k, i, ts, want)
			}
		}
	}

	if !r.IsFull() {
		t.Error("ring should be full after capacity inserts")
	}
}

func TestRing_Eviction(t *testing.T) {
	const capacity = 10
	for j := 1; j <= 25; j += 6 {
		r := MustNew[float64](1, capacity)
		fillRaw(t, r, 1, int64(capacity+j))

		times := r.Times()
		if len(times) != capacity {
			t.Fatalf("j=%d: expected len=%d, got %d", j, capacity, len(times))
		}
		first := int64(j + 1)
		for i, ts := range times {
			if ts != first+int64(i) {
				t.Errorf("j=%d: times[%d]=%d, want %d", j, i, ts, first+int64(i))
			}
		}
		if got := r.Stats().Overwritten; got != int64(j) {
			t.Errorf("j=%d: expected overwritten=%d, got %d", j, j, got)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := MustNew[float64](3, 10)
	fillRaw(t, r, 1, 14)

	wantTimes := []int64{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	times := r.Times()
	data := r.Data()
	if len(times) != len(wantTimes) || len(data) != len(wantTimes) {
		t.Fatalf("expected %d samples, got times=%d data=%d", len(wantTimes), len(times), len(data))
	}
	for i := range wantTimes {
		if times[i] != wantTimes[i] {
			t.Errorf("times[%d]=%d, want %d", i, times[i], wantTimes[i])
		}
		if data[i][0] != float64(times[i]) {
			t.Errorf("data[%d][0]=%v, want %d", i, data[i][0], times[i])
		}
	}

	// Logical 0..9 live in physical slots 4..9,0..3.
	wantRaw := []int64{11, 12, 13, 14, 5, 6, 7, 8, 9, 10}
	for p, want := range wantRaw {
		if r.stamps[p] != want {
			t.Errorf("physical slot %d holds %d, want %d", p, r.stamps[p], want)
		}
	}
	for i := range wantTimes {
		if slot := r.slot(i); slot != (i+4)%10 {
			t.Errorf("logical %d maps to slot %d, want %d", i, slot, (i+4)%10)
		}
	}
}

func TestRing_InsertCopiesValue(t *testing.T) {
	r := MustNew[float64](2, 4)

	v := []float64{1, 2}
	if err := r.Insert(1, v); err != nil {
		t.Fatal(err)
	}
	v[0] = 99

	got, _ := r.NewestValue()
	if got[0] != 1 {
		t.Errorf("ring aliased caller slice: got %v", got)
	}

	got[1] = 42
	again, _ := r.NewestValue()
	if again[1] != 2 {
		t.Errorf("query result aliased ring storage: got %v", again)
	}
}

func TestRing_RejectOutOfOrder(t *testing.T) {
	r := MustNew[float64](1, 4)
	fillRaw(t, r, 10, 12)

	for _, stamp := range []int64{12, 11, -5} {
		err := r.Insert(stamp, []float64{0})
		if !errors.Is(err, errors.ErrOutOfOrder) {
			t.Errorf("insert %d: expected ErrOutOfOrder, got %v", stamp, err)
		}
	}

	times := r.Times()
	if len(times) != 3 || times[2] != 12 {
		t.Errorf("rejected inserts changed the ring: %v", times)
	}
	if got := r.Stats().Rejected; got != 3 {
		t.Errorf("expected rejected=3, got %d", got)
	}
}

func TestRing_RejectDimensionMismatch(t *testing.T) {
	r := MustNew[float64](3, 4)

	err := r.Insert(1, []float64{1, 2})
	if !errors.Is(err, errors.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if !errors.IsContractViolation(err) {
		t.Error("dimension mismatch should be a contract violation")
	}
	if r.Len() != 0 {
		t.Errorf("rejected insert changed the ring: len=%d", r.Len())
	}
}

func TestRing_LowerBound(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillRaw(t, r, 1, 9)

	tests := []struct {
		stamp int64
		want  int
	}{
		{2, 1},
		{11, 9},
		{10, 9},
		{9, 8},
		{0, 0},
		{1, 0},
	}

	err := r.Snapshot(func(v *View[float64]) error {
		for _, tt := range tests {
			if got := v.LowerBound(tt.stamp); got != tt.want {
				t.Errorf("LowerBound(%d)=%d, want %d", tt.stamp, got, tt.want)
			}
		}
		if end := v.LowerBound(10); end != v.Len() {
			t.Errorf("LowerBound past newest should be Len()=%d, got %d", v.Len(), end)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRing_EqualOrBeforeAfter(t *testing.T) {
	r := MustNew[float64](1, 10)
	fillSeconds(t, r, 1, 2, 3, 4, 5)

	_ = r.Snapshot(func(v *View[float64]) error {
		// exact match satisfies both directions
		if i, ok := v.EqualOrBefore(sec(3)); !ok || i != 2 {
			t.Errorf("EqualOrBefore(3s)=(%d,%v), want (2,true)", i, ok)
		}
		if i, ok := v.EqualOrAfter(sec(3)); !ok || i != 2 {
			t.Errorf("EqualOrAfter(3s)=(%d,%v), want (2,true)", i, ok)
		}

		if i, ok := v.EqualOrBefore(sec(3.5)); !ok || i != 2 {
			t.Errorf("EqualOrBefore(3.5s)=(%d,%v), want (2,true)", i, ok)
		}
		if i, ok := v.EqualOrAfter(sec(3.5)); !ok || i != 3 {
			t.Errorf("EqualOrAfter(3.5s)=(%d,%v), want (3,true)", i, ok)
		}

		// too old for before, too new for after
		if i, ok := v.EqualOrBefore(sec(0.5)); ok || i != -1 {
			t.Errorf("EqualOrBefore(0.5s)=(%d,%v), want (-1,false)", i, ok)
		}
		if i, ok := v.EqualOrAfter(sec(6)); ok || i != v.Len() {
			t.Errorf("EqualOrAfter(6s)=(%d,%v), want (%d,false)", i, ok, v.Len())
		}

		// the other direction saturates
		if i, ok := v.EqualOrAfter(sec(0.5)); !ok || i != 0 {
			t.Errorf("EqualOrAfter(0.5s)=(%d,%v), want (0,true)", i, ok)
		}
		if i, ok := v.EqualOrBefore(sec(6)); !ok || i != 4 {
			t.Errorf("EqualOrBefore(6s)=(%d,%v), want (4,true)", i, ok)
		}
		return nil
	})
}

func TestRing_NearestValue(t *testing.T) {
	r := MustNew[float64](2, 10)

	if _, _, ok := r.NearestValue(sec(1)); ok {
		t.Error("NearestValue on empty ring should report not found")
	}

	fillSeconds(t, r, secondsRange(1, 9)...)

	tests := []struct {
		query float64
		want  float64
	}{
		{1, 1},
		{0.4, 1},
		{1.4, 1},
		{1.5, 1}, // tie goes to the earlier sample
		{1.6, 2},
		{11, 9},
		{-3, 1},
	}
	for _, tt := range tests {
		stamp, v, ok := r.NearestValue(sec(tt.query))
		if !ok {
			t.Errorf("NearestValue(%v) not found", tt.query)
			continue
		}
		if v[0] != tt.want {
			t.Errorf("NearestValue(%v)=%v, want %v", tt.query, v[0], tt.want)
		}
		if stamp != sec(tt.want) {
			t.Errorf("NearestValue(%v) stamp=%d, want %d", tt.query, stamp, sec(tt.want))
		}
	}
}

func TestRing_OldestNewest(t *testing.T) {
	r := MustNew[float64](2, 4)

	if _, ok := r.OldestValue(); ok {
		t.Error("OldestValue on empty ring should report not found")
	}
	if _, ok := r.NewestValue(); ok {
		t.Error("NewestValue on empty ring should report not found")
	}
	if _, _, ok := r.OldestAndNewestStamp(); ok {
		t.Error("OldestAndNewestStamp on empty ring should report not found")
	}

	fillRaw(t, r, 1, 6)

	oldest, ok := r.OldestValue()
	if !ok || oldest[0] != 3 {
		t.Errorf("OldestValue=%v,%v, want 3", oldest, ok)
	}
	newest, ok := r.NewestValue()
	if !ok || newest[1] != 6 {
		t.Errorf("NewestValue=%v,%v, want 6", newest, ok)
	}

	n, o, ok := r.OldestAndNewestStamp()
	if !ok || n != 6 || o != 3 {
		t.Errorf("OldestAndNewestStamp=(%d,%d,%v), want (6,3,true)", n, o, ok)
	}
}

func TestRing_InterpolatedInterior(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillSeconds(t, r, secondsRange(1, 9)...)

	got := r.BetweenValuesInterpolated(sec(1.2), sec(5.4))
	if got.Len() != 6 || len(got.Values) != 6 {
		t.Fatalf("expected 6 points, got stamps=%d values=%d", got.Len(), len(got.Values))
	}

	if got.Stamps[0] != sec(1.2) {
		t.Errorf("first stamp=%d, want %d", got.Stamps[0], sec(1.2))
	}
	if got.Stamps[5] != sec(5.4) {
		t.Errorf("last stamp=%d, want %d", got.Stamps[5], sec(5.4))
	}
	for c := 0; c < 2; c++ {
		if !almostEqual(got.Values[0][c], 1.2) {
			t.Errorf("first value[%d]=%v, want 1.2", c, got.Values[0][c])
		}
		if !almostEqual(got.Values[5][c], 5.4) {
			t.Errorf("last value[%d]=%v, want 5.4", c, got.Values[5][c])
		}
	}

	// stored samples in between are passed through unmodified
	for i, want := range []float64{2, 3, 4, 5} {
		if got.Stamps[i+1] != sec(want) || got.Values[i+1][0] != want {
			t.Errorf("point %d = (%d,%v), want (%d,%v)", i+1, got.Stamps[i+1], got.Values[i+1][0], sec(want), want)
		}
	}
}

func TestRing_InterpolatedFullSpan(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillSeconds(t, r, secondsRange(0, 9)...)

	got := r.BetweenValuesInterpolated(sec(0), sec(9))
	if got.Len() != 10 {
		t.Fatalf("expected 10 points, got %d", got.Len())
	}
	if got.Stamps[0] != 0 || got.Values[0][0] != 0 {
		t.Errorf("first point=(%d,%v), want (0,0)", got.Stamps[0], got.Values[0][0])
	}
	if got.Stamps[9] != sec(9) || got.Values[9][0] != 9 {
		t.Errorf("last point=(%d,%v), want (%d,9)", got.Stamps[9], got.Values[9][0], sec(9))
	}
}

func TestRing_InterpolatedOutOfBounds(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillSeconds(t, r, secondsRange(1, 9)...)

	ranges := [][2]float64{{0, 2}, {5, 15}, {0, 15}, {6, 5}}
	for _, q := range ranges {
		got := r.BetweenValuesInterpolated(sec(q[0]), sec(q[1]))
		if len(got.Stamps) != 0 || len(got.Values) != 0 {
			t.Errorf("range %v: expected empty result, got %d/%d", q, len(got.Stamps), len(got.Values))
		}
	}

	empty := MustNew[float64](2, 10)
	if got := empty.BetweenValuesInterpolated(0, 0); !got.IsEmpty() {
		t.Error("empty ring should return an empty series")
	}
}

func TestRing_InterpolatedSinglePoint(t *testing.T) {
	r := MustNew[float64](1, 10)
	fillSeconds(t, r, secondsRange(1, 9)...)

	got := r.BetweenValuesInterpolated(sec(4), sec(4))
	if got.Len() != 1 || got.Stamps[0] != sec(4) || got.Values[0][0] != 4 {
		t.Errorf("stored single point: got %v %v", got.Stamps, got.Values)
	}

	got = r.BetweenValuesInterpolated(sec(4.5), sec(4.5))
	if got.Len() != 1 || !almostEqual(got.Values[0][0], 4.5) {
		t.Errorf("interpolated single point: got %v %v", got.Stamps, got.Values)
	}
}

func TestRing_InterpolatedWithinOneGap(t *testing.T) {
	r := MustNew[float64](1, 10)
	fillSeconds(t, r, 1, 2, 3)

	got := r.BetweenValuesInterpolated(sec(1.25), sec(1.75))
	if got.Len() != 2 {
		t.Fatalf("expected 2 synthetic points, got %d", got.Len())
	}
	if !almostEqual(got.Values[0][0], 1.25) || !almostEqual(got.Values[1][0], 1.75) {
		t.Errorf("got values %v", got.Values)
	}
}

func TestRing_InterpolatedWraparound(t *testing.T) {
	wrapped := MustNew[float64](3, 10)
	fillSeconds(t, wrapped, secondsRange(0, 14)...)

	flat := MustNew[float64](3, 20)
	fillSeconds(t, flat, secondsRange(5, 14)...)

	if wrapped.stampAt(0) != sec(5) {
		t.Fatalf("expected oldest 5s after overfill, got %d", wrapped.stampAt(0))
	}

	for _, q := range [][2]float64{{8, 12}, {7.5, 12.5}, {5, 14}} {
		got := wrapped.BetweenValuesInterpolated(sec(q[0]), sec(q[1]))
		want := flat.BetweenValuesInterpolated(sec(q[0]), sec(q[1]))

		if got.Len() != want.Len() || got.Len() == 0 {
			t.Errorf("range %v: got %d points, want %d", q, got.Len(), want.Len())
			continue
		}
		for i := range want.Stamps {
			if got.Stamps[i] != want.Stamps[i] {
				t.Errorf("range %v: stamps[%d]=%d, want %d", q, i, got.Stamps[i], want.Stamps[i])
			}
			for c := range want.Values[i] {
				if !almostEqual(got.Values[i][c], want.Values[i][c]) {
					t.Errorf("range %v: values[%d][%d]=%v, want %v", q, i, c, got.Values[i][c], want.Values[i][c])
				}
			}
		}
	}
}

func TestRing_RemoveDataBeforeTimestamp(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillRaw(t, r, 1, 9)

	if n := r.RemoveDataBeforeTimestamp(3); n != 2 {
		t.Errorf("expected 2 evicted, got %d", n)
	}

	times := r.Times()
	if len(times) != 7 || times[0] != 3 {
		t.Errorf("expected 7 samples starting at 3, got %v", times)
	}
	if got := r.Stats().Evicted; got != 2 {
		t.Errorf("expected evicted=2, got %d", got)
	}

	// evicting past everything empties the ring, after which any stamp is accepted
	r.RemoveDataBeforeTimestamp(100)
	if r.Len() != 0 {
		t.Errorf("expected empty ring, got len=%d", r.Len())
	}
	if err := r.Insert(0, []float64{0, 0}); err != nil {
		t.Errorf("insert after full eviction: %v", err)
	}
}

func TestRing_RemoveDataOlderThan(t *testing.T) {
	r := MustNew[float64](2, 10)
	fillSeconds(t, r, secondsRange(1, 9)...)

	r.RemoveDataOlderThan(3 * time.Second)

	n, o, ok := r.OldestAndNewestStamp()
	if !ok {
		t.Fatal("ring should not be empty")
	}
	if o != sec(6) {
		t.Errorf("front=%d, want %d", o, sec(6))
	}
	if n != sec(9) {
		t.Errorf("back=%d, want %d", n, sec(9))
	}

	empty := MustNew[float64](2, 10)
	if got := empty.RemoveDataOlderThan(time.Second); got != 0 {
		t.Errorf("eviction on empty ring removed %d", got)
	}
}

func TestRing_EvictThenWrap(t *testing.T) {
	r := MustNew[float64](1, 5)
	fillRaw(t, r, 1, 7)
	r.RemoveDataBeforeTimestamp(6)
	fillRaw(t, r, 8, 11)

	want := []int64{7, 8, 9, 10, 11}
	times := r.Times()
	if len(times) != len(want) {
		t.Fatalf("got %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Errorf("times[%d]=%d, want %d", i, times[i], want[i])
		}
	}
}

func TestRing_Clear(t *testing.T) {
	r := MustNew[float64](1, 5)
	fillRaw(t, r, 1, 8)

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected empty ring after Clear, got %d", r.Len())
	}
	fillRaw(t, r, 1, 2)
	if times := r.Times(); len(times) != 2 || times[0] != 1 {
		t.Errorf("unexpected times after Clear: %v", times)
	}
}

func TestRing_Stats(t *testing.T) {
	r := MustNew[float64](2, 4)
	fillSeconds(t, r, 1, 2, 3, 4, 5)
	_ = r.Insert(0, []float64{0, 0})

	s := r.Stats()
	if s.Capacity != 4 || s.Count != 4 || s.Dim != 2 {
		t.Errorf("unexpected shape: %+v", s)
	}
	if s.UsageRatio != 1 {
		t.Errorf("expected usage 1, got %v", s.UsageRatio)
	}
	if s.Inserted != 5 || s.Overwritten != 1 || s.Rejected != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.OldestStamp != sec(2) || s.NewestStamp != sec(5) {
		t.Errorf("unexpected bounds: %d..%d", s.OldestStamp, s.NewestStamp)
	}
	if s.Span() != 3*time.Second {
		t.Errorf("expected span 3s, got %v", s.Span())
	}
}

func TestRing_Float32(t *testing.T) {
	r := MustNew[float32](2, 8)
	for i := 1; i <= 4; i++ {
		if err := r.Insert(sec(float64(i)), []float32{float32(i), -float32(i)}); err != nil {
			t.Fatal(err)
		}
	}

	got := r.BetweenValuesInterpolated(sec(1.5), sec(2.5))
	if got.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", got.Len())
	}
	if got.Values[0][0] != 1.5 || got.Values[0][1] != -1.5 {
		t.Errorf("unexpected interpolated float32 value: %v", got.Values[0])
	}
}
