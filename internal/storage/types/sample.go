package types

import "time"

// Float is the set of scalar types a sample component may have.
type Float interface {
	~float32 | ~float64
}

// Sample is a single timestamped vector value.
// Samples handed out by a buffer own their Value slice.
type Sample[S Float] struct {
	// Stamp is the sample time in nanoseconds.
	Stamp int64

	// Value holds one scalar per dimension.
	Value []S
}

// NewSample copies value into a new Sample.
func NewSample[S Float](stamp int64, value ...S) Sample[S] {
	v := make([]S, len(value))
	copy(v, value)
	return Sample[S]{Stamp: stamp, Value: v}
}

// Time returns the stamp as a time.Time.
func (s Sample[S]) Time() time.Time {
	return time.Unix(0, s.Stamp)
}

// Dim returns the number of components.
func (s Sample[S]) Dim() int {
	return len(s.Value)
}

// Clone returns a deep copy of the sample.
func (s Sample[S]) Clone() Sample[S] {
	return NewSample(s.Stamp, s.Value...)
}

// SampleBatch represents a collection of samples for batch processing.
type SampleBatch[S Float] struct {
	Samples []Sample[S]
}

// NewSampleBatch creates a new batch with the given capacity.
func NewSampleBatch[S Float](capacity int) *SampleBatch[S] {
	return &SampleBatch[S]{
		Samples: make([]Sample[S], 0, capacity),
	}
}

// Add appends a sample to the batch.
func (b *SampleBatch[S]) Add(s Sample[S]) {
	b.Samples = append(b.Samples, s)
}

// Len returns the number of samples in the batch.
func (b *SampleBatch[S]) Len() int {
	return len(b.Samples)
}

// Clear resets the batch for reuse.
func (b *SampleBatch[S]) Clear() {
	b.Samples = b.Samples[:0]
}
