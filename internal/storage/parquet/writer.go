package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// tmpSuffix is appended while a file is being written. Export globs never
// match it, so readers only see complete files.
const tmpSuffix = ".tmp"

// writer is the row-type independent part of SampleWriter and AggregateWriter.
type writer[T any] struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[T]
	rowCount int64
	closed   bool
}

func newWriter[T any](path string, opts Options) (*writer[T], error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path + tmpSuffix)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	return &writer[T]{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[T](f, opts.writerOptions()...),
	}, nil
}

func (w *writer[T]) write(rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	w.rowCount += int64(n)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// Close flushes the footer and moves the file to its final path.
func (w *writer[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	tmp := w.file.Name()
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(tmp)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Abort discards a partially written file.
func (w *writer[T]) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.file.Close()
	return os.Remove(w.file.Name())
}

// RowCount returns the number of rows written.
func (w *writer[T]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the final file path.
func (w *writer[T]) Path() string {
	return w.path
}

// SampleWriter writes samples to a Parquet file.
type SampleWriter struct {
	*writer[SampleRow]
}

// NewSampleWriter creates a new sample Parquet writer.
func NewSampleWriter(path string, opts Options) (*SampleWriter, error) {
	w, err := newWriter[SampleRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &SampleWriter{w}, nil
}

// WriteSamples writes samples of one stream.
func (w *SampleWriter) WriteSamples(stream string, samples []types.Sample[float64]) error {
	rows := make([]SampleRow, len(samples))
	for i := range samples {
		rows[i] = SampleToRow(stream, samples[i])
	}
	return w.write(rows)
}

// WriteSeries writes a column-oriented series of one stream.
func (w *SampleWriter) WriteSeries(stream string, s types.Series[float64]) error {
	rows := make([]SampleRow, s.Len())
	for i := range rows {
		rows[i] = SampleToRow(stream, s.At(i))
	}
	return w.write(rows)
}

// WriteRows writes rows as they are, e.g. when merging existing exports.
func (w *SampleWriter) WriteRows(rows []SampleRow) error {
	return w.write(rows)
}

// AggregateWriter writes window aggregates to a Parquet file.
type AggregateWriter struct {
	*writer[AggregateRow]
}

// NewAggregateWriter creates a new aggregate Parquet writer.
func NewAggregateWriter(path string, opts Options) (*AggregateWriter, error) {
	w, err := newWriter[AggregateRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &AggregateWriter{w}, nil
}

// Write writes aggregates of one stream.
func (w *AggregateWriter) Write(stream string, results []types.AggregateResult) error {
	var rows []AggregateRow
	for i := range results {
		rows = append(rows, AggregateToRows(stream, &results[i])...)
	}
	return w.write(rows)
}
