package aggregate

import (
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

func sample(stamp int64, v ...float64) types.Sample[float64] {
	return types.NewSample(stamp, v...)
}

func TestManager_Basic(t *testing.T) {
	m := NewManager(time.Minute, 0)

	for i := int64(0); i < 10; i++ {
		if err := m.Process("cpu", sample(i*second, float64(i))); err != nil {
			t.Fatal(err)
		}
	}

	if m.ActiveCount() != 1 {
		t.Errorf("expected 1 active aggregate, got %d", m.ActiveCount())
	}
	if m.CompletedCount() != 0 {
		t.Errorf("expected no completed aggregates, got %d", m.CompletedCount())
	}

	cur, ok := m.Current("cpu")
	if !ok || cur.Count != 10 {
		t.Errorf("unexpected current aggregate: %+v ok=%v", cur, ok)
	}
	if _, ok := m.Current("mem"); ok {
		t.Error("unknown stream should have no current aggregate")
	}
}

func TestManager_BucketTransition(t *testing.T) {
	m := NewManager(time.Minute, 0)
	minute := int64(time.Minute)

	_ = m.Process("cpu", sample(10*second, 1))
	_ = m.Process("cpu", sample(20*second, 2))
	_ = m.Process("cpu", sample(minute+5*second, 3))

	completed := m.FlushCompleted()
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed bucket, got %d", len(completed))
	}
	c := completed[0]
	if c.Stream != "cpu" || c.Result.Count != 2 {
		t.Errorf("unexpected completed bucket: %+v", c)
	}
	if c.Result.WindowStart != 0 || c.Result.WindowEnd != minute {
		t.Errorf("unexpected bucket bounds: %d..%d", c.Result.WindowStart, c.Result.WindowEnd)
	}

	if got := m.FlushCompleted(); got != nil {
		t.Errorf("second flush should be empty, got %d", len(got))
	}

	// a sample from a finished bucket is rejected
	if err := m.Process("cpu", sample(30*second, 4)); !errors.Is(err, errors.ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
	if m.Stats().SamplesRejected != 1 {
		t.Errorf("expected 1 rejected sample, got %d", m.Stats().SamplesRejected)
	}
}

func TestManager_FlushAll(t *testing.T) {
	m := NewManager(time.Minute, 0.01)

	_ = m.ProcessBatch("a", []types.Sample[float64]{sample(1, 1), sample(2, 2)})
	_ = m.ProcessBatch("b", []types.Sample[float64]{sample(1, 1, 1)})

	all := m.FlushAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(all))
	}
	if m.ActiveCount() != 0 {
		t.Errorf("expected no active aggregates after FlushAll, got %d", m.ActiveCount())
	}

	stats := m.Stats()
	if stats.SamplesProcessed != 3 || stats.BucketsCompleted != 2 || stats.FlushesPerformed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManager_FlushOlderThan(t *testing.T) {
	m := NewManager(time.Minute, 0)
	minute := int64(time.Minute)

	_ = m.Process("old", sample(5*second, 1))
	_ = m.Process("new", sample(3*minute, 1))

	flushed := m.FlushOlderThan(2 * minute)
	if len(flushed) != 1 || flushed[0].Stream != "old" {
		t.Errorf("expected only the old stream flushed, got %+v", flushed)
	}
	if m.ActiveCount() != 1 {
		t.Errorf("expected 1 active aggregate, got %d", m.ActiveCount())
	}
}

func TestManager_NegativeStampsBucket(t *testing.T) {
	m := NewManager(time.Minute, 0)
	start, end := m.calculateBucket(-1)
	if start != -int64(time.Minute) || end != 0 {
		t.Errorf("expected bucket [-1m, 0), got [%d, %d)", start, end)
	}
	start, _ = m.calculateBucket(int64(time.Minute))
	if start != int64(time.Minute) {
		t.Errorf("expected bucket starting at 1m, got %d", start)
	}
}

func TestManager_DimensionMismatch(t *testing.T) {
	m := NewManager(time.Minute, 0)
	_ = m.Process("cpu", sample(1, 1, 2))

	if err := m.Process("cpu", sample(2, 1)); !errors.Is(err, errors.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func BenchmarkManager_Process(b *testing.B) {
	m := NewManager(time.Minute, 0.01)
	s := sample(0, 1, 2, 3)
	for i := 0; i < b.N; i++ {
		s.Stamp = int64(i) * int64(time.Millisecond)
		_ = m.Process("bench", s)
	}
}
