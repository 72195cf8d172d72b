package buffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/testutil"
)

// histories returns one instance of every History implementation, each able
// to hold at least capacity samples without evicting.
func histories(t *testing.T, dim, capacity int) map[string]History[float64] {
	t.Helper()
	r, err := New[float64](dim, capacity)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGrowable[float64](dim, 0)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]History[float64]{"ring": r, "growable": g}
}

func TestHistory_OrderingPreserved(t *testing.T) {
	for name, h := range histories(t, 3, 16) {
		t.Run(name, func(t *testing.T) {
			want := []int64{-7, 0, 3, 4, 100, 101, 5000}
			for _, s := range want {
				if err := h.Insert(s, []float64{1, 2, 3}); err != nil {
					t.Fatalf("insert %d: %v", s, err)
				}
			}
			got := h.Times()
			if len(got) != len(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("times[%d]=%d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestHistory_SameAnswers(t *testing.T) {
	hs := histories(t, 2, 32)
	for _, h := range hs {
		fillSeconds(t, h, 1, 2, 4, 8, 16)
	}
	r, g := hs["ring"], hs["growable"]

	for _, q := range []float64{-1, 1, 2.9, 3, 3.1, 12, 20} {
		rs, rv, rok := r.NearestValue(sec(q))
		gs, gv, gok := g.NearestValue(sec(q))
		if rs != gs || rok != gok || rv[0] != gv[0] {
			t.Errorf("NearestValue(%v): ring=(%d,%v) growable=(%d,%v)", q, rs, rv, gs, gv)
		}
	}

	for _, q := range [][2]float64{{1, 16}, {1.5, 3}, {2, 2}, {5, 15}, {0, 3}} {
		rr := r.BetweenValuesInterpolated(sec(q[0]), sec(q[1]))
		gr := g.BetweenValuesInterpolated(sec(q[0]), sec(q[1]))
		if rr.Len() != gr.Len() {
			t.Errorf("range %v: ring=%d points, growable=%d points", q, rr.Len(), gr.Len())
			continue
		}
		for i := range rr.Stamps {
			if rr.Stamps[i] != gr.Stamps[i] || !almostEqual(rr.Values[i][0], gr.Values[i][0]) {
				t.Errorf("range %v point %d differs", q, i)
			}
		}
	}
}

func TestHistory_InterpolationLength(t *testing.T) {
	for name, h := range histories(t, 1, 16) {
		t.Run(name, func(t *testing.T) {
			fillSeconds(t, h, secondsRange(1, 9)...)

			tests := []struct {
				start, end float64
				want       int
			}{
				{1.2, 5.4, 6},
				{1, 9, 9},
				{1, 1.5, 2},
				{2, 3, 2},
				{2.5, 3.5, 3},
			}
			for _, tt := range tests {
				got := h.BetweenValuesInterpolated(sec(tt.start), sec(tt.end))
				if got.Len() != tt.want || len(got.Values) != tt.want {
					t.Errorf("[%v,%v]: got %d/%d points, want %d", tt.start, tt.end, got.Len(), len(got.Values), tt.want)
				}
				for i := 1; i < got.Len(); i++ {
					if got.Stamps[i] <= got.Stamps[i-1] {
						t.Errorf("[%v,%v]: stamps not increasing: %v", tt.start, tt.end, got.Stamps)
						break
					}
				}
			}
		})
	}
}

func TestHistory_RemoveDataOlderThan(t *testing.T) {
	for name, h := range histories(t, 2, 16) {
		t.Run(name, func(t *testing.T) {
			fillSeconds(t, h, secondsRange(1, 9)...)

			if n := h.RemoveDataOlderThan(3 * time.Second); n != 5 {
				t.Errorf("expected 5 evicted, got %d", n)
			}
			newest, oldest, ok := h.OldestAndNewestStamp()
			if !ok || oldest != sec(6) || newest != sec(9) {
				t.Errorf("got window [%d,%d] ok=%v", oldest, newest, ok)
			}
		})
	}
}

func TestHistory_Snapshot(t *testing.T) {
	for name, h := range histories(t, 2, 16) {
		t.Run(name, func(t *testing.T) {
			fillRaw(t, h, 1, 5)

			err := h.Snapshot(func(v *View[float64]) error {
				times, data := v.Times(), v.Data()
				if len(times) != len(data) {
					return fmt.Errorf("times/data length mismatch: %d/%d", len(times), len(data))
				}
				for i := range times {
					if data[i][0] != float64(times[i]) {
						return fmt.Errorf("sample %d not aligned", i)
					}
				}
				if s := v.At(2); s.Stamp != 3 || s.Value[1] != 3 {
					return fmt.Errorf("At(2)=%+v", s)
				}
				if rng := v.Range(-1, 2); rng.Len() != 2 || rng.Stamps[1] != 2 {
					return fmt.Errorf("Range(-1,2)=%v", rng.Stamps)
				}
				if rng := v.Range(4, 99); rng.Len() != 1 {
					return fmt.Errorf("Range(4,99) has %d samples", rng.Len())
				}
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		})
	}
}

func TestHistory_SnapshotPropagatesError(t *testing.T) {
	r := MustNew[float64](1, 4)
	want := errors.New("consumer failed")

	if err := r.Snapshot(func(*View[float64]) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}

	// the lock must have been released
	if err := testutil.WithTimeout(time.Second, func() error {
		return r.Insert(1, []float64{1})
	}); err != nil {
		t.Errorf("insert after failed snapshot: %v", err)
	}
}

func TestHistory_SnapshotReleasesOnPanic(t *testing.T) {
	r := MustNew[float64](1, 4)

	func() {
		defer func() { _ = recover() }()
		_ = r.Snapshot(func(*View[float64]) error {
			panic("consumer bug")
		})
	}()

	if err := testutil.WithTimeout(time.Second, func() error {
		return r.Insert(1, []float64{1})
	}); err != nil {
		t.Errorf("insert after panicking snapshot: %v", err)
	}
}

func TestHistory_ViewInvalidAfterSnapshot(t *testing.T) {
	r := MustNew[float64](1, 4)
	fillRaw(t, r, 1, 2)

	var leaked *View[float64]
	_ = r.Snapshot(func(v *View[float64]) error {
		leaked = v
		return nil
	})

	defer func() {
		if recover() == nil {
			t.Error("using a View after its snapshot should panic")
		}
	}()
	leaked.Len()
}

func TestHistory_SnapshotBlocksProducer(t *testing.T) {
	r := MustNew[float64](1, 64)
	fillRaw(t, r, 1, 4)

	inside := make(chan struct{})
	release := make(chan struct{})
	inserted := make(chan error, 1)

	gt := testutil.NewGoroutineTestWithTimeout(t, 5*time.Second)
	gt.Go(func() error {
		return r.Snapshot(func(v *View[float64]) error {
			before := v.Len()
			close(inside)
			<-release
			if after := v.Len(); after != before {
				return fmt.Errorf("window changed inside snapshot: %d -> %d", before, after)
			}
			return nil
		})
	})

	<-inside
	go func() { inserted <- r.Insert(5, []float64{5}) }()

	select {
	case <-inserted:
		t.Error("insert completed while a snapshot was held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	gt.Wait()

	if err := <-inserted; err != nil {
		t.Errorf("insert after snapshot: %v", err)
	}
	if r.Len() != 5 {
		t.Errorf("expected 5 samples, got %d", r.Len())
	}
}

func TestHistory_ConcurrentProducerConsumers(t *testing.T) {
	for name, h := range histories(t, 2, 128) {
		t.Run(name, func(t *testing.T) {
			const n = 2000

			gt := testutil.NewGoroutineTestWithTimeout(t, 10*time.Second)

			gt.Go(func() error {
				for i := int64(1); i <= n; i++ {
					if err := h.Insert(i, []float64{float64(i), float64(-i)}); err != nil {
						return err
					}
					if i%500 == 0 {
						h.RemoveDataBeforeTimestamp(i - 100)
					}
				}
				return nil
			})

			for c := 0; c < 4; c++ {
				gt.Go(func() error {
					for i := 0; i < 500; i++ {
						err := h.Snapshot(func(v *View[float64]) error {
							times, data := v.Times(), v.Data()
							if len(times) != len(data) {
								return fmt.Errorf("length mismatch %d/%d", len(times), len(data))
							}
							for j := range times {
								if j > 0 && times[j] <= times[j-1] {
									return fmt.Errorf("stamps not increasing at %d", j)
								}
								if data[j][0] != float64(times[j]) || data[j][1] != -float64(times[j]) {
									return fmt.Errorf("sample %d torn: %d %v", j, times[j], data[j])
								}
							}
							return nil
						})
						if err != nil {
							return err
						}
						if newest, oldest, ok := h.OldestAndNewestStamp(); ok && newest < oldest {
							return fmt.Errorf("newest %d < oldest %d", newest, oldest)
						}
					}
					return nil
				})
			}

			gt.Wait()

			if newest, _, _ := h.OldestAndNewestStamp(); newest != n {
				t.Errorf("expected newest=%d, got %d", n, newest)
			}
		})
	}
}
