package types

// Series is an ordered run of samples split into two index-aligned slices:
// Stamps[i] is the time of Values[i].
type Series[S Float] struct {
	Stamps []int64
	Values [][]S
}

// NewSeries allocates an empty series with room for n samples.
func NewSeries[S Float](n int) Series[S] {
	return Series[S]{
		Stamps: make([]int64, 0, n),
		Values: make([][]S, 0, n),
	}
}

// Len returns the number of samples.
func (s Series[S]) Len() int {
	return len(s.Stamps)
}

// IsEmpty returns true if the series holds no samples.
func (s Series[S]) IsEmpty() bool {
	return len(s.Stamps) == 0
}

// Clone returns a deep copy that shares no storage with s.
func (s Series[S]) Clone() Series[S] {
	out := NewSeries[S](s.Len())
	for i, v := range s.Values {
		out.Append(s.Stamps[i], append([]S(nil), v...))
	}
	return out
}

// Append adds a sample. The caller hands over ownership of value.
func (s *Series[S]) Append(stamp int64, value []S) {
	s.Stamps = append(s.Stamps, stamp)
	s.Values = append(s.Values, value)
}

// At returns sample i.
func (s Series[S]) At(i int) Sample[S] {
	return Sample[S]{Stamp: s.Stamps[i], Value: s.Values[i]}
}

// Component returns component c of every sample, in order.
func (s Series[S]) Component(c int) []S {
	out := make([]S, len(s.Values))
	for i, v := range s.Values {
		out[i] = v[c]
	}
	return out
}

// Samples converts the series to a slice of samples sharing the value slices.
func (s Series[S]) Samples() []Sample[S] {
	out := make([]Sample[S], len(s.Stamps))
	for i := range s.Stamps {
		out[i] = s.At(i)
	}
	return out
}

// SeriesFromSamples builds a series from samples, sharing the value slices.
func SeriesFromSamples[S Float](samples []Sample[S]) Series[S] {
	out := NewSeries[S](len(samples))
	for _, smp := range samples {
		out.Append(smp.Stamp, smp.Value)
	}
	return out
}
