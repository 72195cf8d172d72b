package buffer

import (
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
)

func TestGrowable_New(t *testing.T) {
	if _, err := NewGrowable[float64](0, 0); !errors.Is(err, errors.ErrInvalidDimension) {
		t.Errorf("expected ErrInvalidDimension, got %v", err)
	}

	g, err := NewGrowable[float64](2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if g.Window() != time.Minute {
		t.Errorf("expected window=1m, got %v", g.Window())
	}
	if g.Stats().Capacity != 0 {
		t.Error("growable history should report capacity 0")
	}
}

func TestGrowable_GrowsWithoutEviction(t *testing.T) {
	g, _ := NewGrowable[float64](1, 0)
	fillRaw(t, g, 1, 1000)

	if g.Len() != 1000 {
		t.Errorf("expected 1000 samples, got %d", g.Len())
	}
	if s := g.Stats(); s.Evicted != 0 || s.Overwritten != 0 {
		t.Errorf("unbounded history dropped samples: %+v", s)
	}
}

func TestGrowable_WindowTrims(t *testing.T) {
	g, _ := NewGrowable[float64](1, 3*time.Second)
	fillSeconds(t, g, secondsRange(1, 9)...)

	times := g.Times()
	if len(times) != 4 || times[0] != sec(6) || times[3] != sec(9) {
		t.Errorf("expected window [6s, 9s], got %v", times)
	}
	if got := g.Stats().Evicted; got != 5 {
		t.Errorf("expected evicted=5, got %d", got)
	}
}

func TestGrowable_RemoveDataBeforeTimestamp(t *testing.T) {
	g, _ := NewGrowable[float64](2, 0)
	fillRaw(t, g, 1, 9)

	g.RemoveDataBeforeTimestamp(3)
	times := g.Times()
	if len(times) != 7 || times[0] != 3 {
		t.Errorf("expected 7 samples starting at 3, got %v", times)
	}

	data := g.Data()
	for i := range times {
		if data[i][1] != float64(times[i]) {
			t.Errorf("values out of step with stamps after eviction: %v / %v", times, data)
			break
		}
	}
}

func TestGrowable_Clear(t *testing.T) {
	g, _ := NewGrowable[float64](1, 0)
	fillRaw(t, g, 5, 8)
	g.Clear()

	if g.Len() != 0 {
		t.Errorf("expected empty history after Clear, got %d", g.Len())
	}
	if err := g.Insert(1, []float64{1}); err != nil {
		t.Errorf("insert after Clear: %v", err)
	}
}
