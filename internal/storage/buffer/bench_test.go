package buffer

import (
	"testing"
	"time"
)

const benchSize = 10000

func benchHistories(b *testing.B) map[string]History[float64] {
	b.Helper()
	r, err := New[float64](3, benchSize)
	if err != nil {
		b.Fatal(err)
	}
	g, err := NewGrowable[float64](3, 0)
	if err != nil {
		b.Fatal(err)
	}
	hs := map[string]History[float64]{"ring": r, "growable": g}
	for _, h := range hs {
		fillRaw(b, h, 1, benchSize)
	}
	return hs
}

func BenchmarkInsert(b *testing.B) {
	b.Run("ring", func(b *testing.B) {
		r := MustNew[float64](3, benchSize)
		v := []float64{1, 2, 3}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = r.Insert(int64(i), v)
		}
	})
	b.Run("growable", func(b *testing.B) {
		g, _ := NewGrowable[float64](3, 0)
		v := []float64{1, 2, 3}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = g.Insert(int64(i), v)
		}
	})
}

func BenchmarkNearestValue(b *testing.B) {
	for name, h := range benchHistories(b) {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				h.NearestValue(int64(i % benchSize))
			}
		})
	}
}

func BenchmarkEqualOrBeforeAfter(b *testing.B) {
	for name, h := range benchHistories(b) {
		b.Run(name, func(b *testing.B) {
			_ = h.Snapshot(func(v *View[float64]) error {
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					v.EqualOrBefore(int64(i % benchSize))
					v.EqualOrAfter(int64(i % benchSize))
				}
				return nil
			})
		})
	}
}

func BenchmarkBetweenValuesInterpolated(b *testing.B) {
	for name, h := range benchHistories(b) {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				h.BetweenValuesInterpolated(1000, 1100)
			}
		})
	}
}

func BenchmarkRemoveDataOlderThan(b *testing.B) {
	b.Run("ring", func(b *testing.B) {
		r := MustNew[float64](3, benchSize)
		v := []float64{1, 2, 3}
		for i := 0; i < b.N; i++ {
			_ = r.Insert(int64(i)*int64(time.Millisecond), v)
			r.RemoveDataOlderThan(time.Second)
		}
	})
	b.Run("growable", func(b *testing.B) {
		g, _ := NewGrowable[float64](3, 0)
		v := []float64{1, 2, 3}
		for i := 0; i < b.N; i++ {
			_ = g.Insert(int64(i)*int64(time.Millisecond), v)
			g.RemoveDataOlderThan(time.Second)
		}
	})
}
