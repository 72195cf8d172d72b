package buffer

import (
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Ring is a fixed-capacity, thread-safe history of timestamped vector
// samples. Storage is allocated once in New; once the ring is full every
// insert overwrites the oldest sample in O(1).
type Ring[S types.Float] struct {
	base[S]

	stamps    []int64
	values    []S // capacity*dimension, slot-major
	dimension int
	capacity  int
	head      int // slot of the newest sample
	count     int
}

var (
	_ History[float64] = (*Ring[float64])(nil)
	_ History[float32] = (*Growable[float32])(nil)
)

// New creates an empty ring holding up to capacity samples of dim
// components each.
func New[S types.Float](dim, capacity int) (*Ring[S], error) {
	if capacity <= 0 {
		return nil, errors.ErrInvalidCapacity
	}
	if dim <= 0 {
		return nil, errors.ErrInvalidDimension
	}

	r := &Ring[S]{
		stamps:    make([]int64, capacity),
		values:    make([]S, capacity*dim),
		dimension: dim,
		capacity:  capacity,
		head:      capacity - 1,
	}
	r.st = r
	return r, nil
}

// MustNew is like New but panics on invalid parameters.
func MustNew[S types.Float](dim, capacity int) *Ring[S] {
	r, err := New[S](dim, capacity)
	if err != nil {
		panic(err)
	}
	return r
}

// Insert writes a sample into the slot after the newest one. When the ring
// is full this overwrites the oldest sample. value is copied.
//
// A stamp not strictly after the newest sample returns ErrOutOfOrder and a
// value of the wrong length returns ErrDimensionMismatch; the ring is left
// unchanged in both cases.
func (r *Ring[S]) Insert(stamp int64, value []S) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkInsert(stamp, value); err != nil {
		return err
	}

	next := (r.head + 1) % r.capacity
	r.stamps[next] = stamp
	copy(r.values[next*r.dimension:(next+1)*r.dimension], value)
	r.head = next

	if r.count < r.capacity {
		r.count++
	} else {
		r.overwritten.Add(1)
	}
	r.inserted.Add(1)
	return nil
}

// Cap returns the capacity of the ring.
func (r *Ring[S]) Cap() int {
	return r.capacity
}

// IsFull returns true once the ring has started overwriting.
func (r *Ring[S]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count == r.capacity
}

// Clear removes all samples. Storage is kept.
func (r *Ring[S]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = r.capacity - 1
	r.count = 0
}

// Stats returns buffer statistics.
func (r *Ring[S]) Stats() Stats {
	return r.stats(r.capacity)
}

// store implementation; callers hold r.mu.

func (r *Ring[S]) size() int { return r.count }

func (r *Ring[S]) dim() int { return r.dimension }

func (r *Ring[S]) slot(i int) int {
	return physicalIndex(r.head, r.count, r.capacity, i)
}

func (r *Ring[S]) stampAt(i int) int64 {
	return r.stamps[r.slot(i)]
}

func (r *Ring[S]) valueAt(i int) []S {
	p := r.slot(i) * r.dimension
	return r.values[p : p+r.dimension : p+r.dimension]
}

// dropFront forgets the k oldest samples. head still points at the newest,
// so the logical mapping stays valid without moving any data.
func (r *Ring[S]) dropFront(k int) {
	r.count -= k
}
