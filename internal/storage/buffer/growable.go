package buffer

import (
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Growable is an unbounded, thread-safe history with the same query surface
// as Ring. With a non-zero window, every insert drops samples older than
// newest-window, which bounds the history by time instead of count.
type Growable[S types.Float] struct {
	base[S]

	stamps    []int64
	values    []S
	dimension int
	window    time.Duration
}

// NewGrowable creates an empty growable history. window <= 0 disables
// time-based trimming.
func NewGrowable[S types.Float](dim int, window time.Duration) (*Growable[S], error) {
	if dim <= 0 {
		return nil, errors.ErrInvalidDimension
	}
	g := &Growable[S]{
		dimension: dim,
		window:    window,
	}
	g.st = g
	return g, nil
}

// Insert appends a sample. value is copied. Ordering and dimension rules
// are the same as Ring.Insert.
func (g *Growable[S]) Insert(stamp int64, value []S) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkInsert(stamp, value); err != nil {
		return err
	}

	g.stamps = append(g.stamps, stamp)
	g.values = append(g.values, value...)
	g.inserted.Add(1)

	if g.window > 0 {
		g.evictBefore(windowStart(stamp, g.window))
	}
	return nil
}

// Window returns the configured trimming window.
func (g *Growable[S]) Window() time.Duration {
	return g.window
}

// Clear removes all samples and releases storage.
func (g *Growable[S]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stamps = nil
	g.values = nil
}

// Stats returns buffer statistics. Capacity is reported as 0.
func (g *Growable[S]) Stats() Stats {
	return g.stats(0)
}

// store implementation; callers hold g.mu.

func (g *Growable[S]) size() int { return len(g.stamps) }

func (g *Growable[S]) dim() int { return g.dimension }

func (g *Growable[S]) stampAt(i int) int64 { return g.stamps[i] }

func (g *Growable[S]) valueAt(i int) []S {
	p := i * g.dimension
	return g.values[p : p+g.dimension : p+g.dimension]
}

func (g *Growable[S]) dropFront(k int) {
	n := copy(g.stamps, g.stamps[k:])
	g.stamps = g.stamps[:n]
	m := copy(g.values, g.values[k*g.dimension:])
	g.values = g.values[:m]
}
