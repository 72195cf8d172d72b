package wire

import (
	"fmt"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Batch is a run of samples sharing one dimension. Values is flat:
// sample i occupies Values[i*Dim:(i+1)*Dim].
type Batch struct {
	Dim    int
	Stamps []int64
	Values []float64
}

// NewBatch flattens samples into a batch. Every sample must have dim
// components.
func NewBatch(dim int, samples []types.Sample[float64]) (*Batch, error) {
	if dim <= 0 {
		return nil, errors.ErrInvalidDimension
	}
	b := &Batch{
		Dim:    dim,
		Stamps: make([]int64, 0, len(samples)),
		Values: make([]float64, 0, len(samples)*dim),
	}
	for i, s := range samples {
		if len(s.Value) != dim {
			return nil, fmt.Errorf("sample %d: %w", i, errors.NewDimensionMismatch(len(s.Value), dim))
		}
		b.Stamps = append(b.Stamps, s.Stamp)
		b.Values = append(b.Values, s.Value...)
	}
	return b, nil
}

// BatchFromSeries flattens a series into a batch.
func BatchFromSeries(dim int, s types.Series[float64]) (*Batch, error) {
	return NewBatch(dim, s.Samples())
}

// Len returns the number of samples.
func (b *Batch) Len() int {
	return len(b.Stamps)
}

// Value returns the components of sample i. The slice aliases the batch.
func (b *Batch) Value(i int) []float64 {
	return b.Values[i*b.Dim : (i+1)*b.Dim : (i+1)*b.Dim]
}

// Samples splits the batch into samples that own their values.
func (b *Batch) Samples() []types.Sample[float64] {
	out := make([]types.Sample[float64], b.Len())
	for i := range out {
		out[i] = types.NewSample(b.Stamps[i], b.Value(i)...)
	}
	return out
}

// validate checks the flat layout after decoding.
func (b *Batch) validate() error {
	if len(b.Stamps) == 0 {
		if len(b.Values) != 0 {
			return fmt.Errorf("%d values without stamps: %w", len(b.Values), errors.ErrMalformedFrame)
		}
		return nil
	}
	if b.Dim <= 0 || b.Dim > MaxDimension {
		return fmt.Errorf("dimension %d: %w", b.Dim, errors.ErrMalformedFrame)
	}
	if len(b.Values)%len(b.Stamps) != 0 || len(b.Values)/len(b.Stamps) != b.Dim {
		return fmt.Errorf("%d values for %d stamps of dimension %d: %w",
			len(b.Values), len(b.Stamps), b.Dim, errors.ErrMalformedFrame)
	}
	return nil
}
