package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/timering/internal/storage/types"
)

// reader is the row-type independent part of SampleReader and AggregateReader.
type reader[T any] struct {
	file   *os.File
	reader *parquet.GenericReader[T]
	path   string
}

func newReader[T any](path string) (*reader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &reader[T]{
		file:   f,
		reader: parquet.NewGenericReader[T](f, parquet.ReadBufferSize(1024*1024)),
		path:   path,
	}, nil
}

// read returns up to n rows. io.EOF is returned only with zero rows.
func (r *reader[T]) read(n int) ([]T, error) {
	rows := make([]T, n)
	count, err := r.reader.Read(rows)
	if err == io.EOF && count > 0 {
		err = nil
	}
	return rows[:count], err
}

func (r *reader[T]) readAll() ([]T, error) {
	rows := make([]T, r.reader.NumRows())
	count, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:count], nil
}

// NumRows returns the total number of rows in the file.
func (r *reader[T]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *reader[T]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *reader[T]) Path() string {
	return r.path
}

// SampleReader reads samples from a Parquet file.
type SampleReader struct {
	*reader[SampleRow]
}

// NewSampleReader creates a new sample Parquet reader.
func NewSampleReader(path string) (*SampleReader, error) {
	r, err := newReader[SampleRow](path)
	if err != nil {
		return nil, err
	}
	return &SampleReader{r}, nil
}

// Read reads up to n rows from the file.
func (r *SampleReader) Read(n int) ([]SampleRow, error) {
	return r.read(n)
}

// ReadAll reads every row in the file.
func (r *SampleReader) ReadAll() ([]SampleRow, error) {
	return r.readAll()
}

// ReadStream returns the samples of one stream, in file order.
func (r *SampleReader) ReadStream(stream string) ([]types.Sample[float64], error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	var out []types.Sample[float64]
	for i := range rows {
		if rows[i].Stream == stream {
			out = append(out, RowToSample(&rows[i]))
		}
	}
	return out, nil
}

// AggregateReader reads window aggregates from a Parquet file.
type AggregateReader struct {
	*reader[AggregateRow]
}

// NewAggregateReader creates a new aggregate Parquet reader.
func NewAggregateReader(path string) (*AggregateReader, error) {
	r, err := newReader[AggregateRow](path)
	if err != nil {
		return nil, err
	}
	return &AggregateReader{r}, nil
}

// ReadAll reads and regroups every aggregate in the file.
func (r *AggregateReader) ReadAll() ([]StreamAggregate, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	return RowsToAggregates(rows), nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
