package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/wire"
)

const maxRecordSize = 64 * 1024 * 1024

// errTornRecord marks a record cut short by a crash mid-write. Nothing after
// it in the segment can be trusted.
var errTornRecord = fmt.Errorf("torn record")

// Reader reads batches from a WAL segment file.
type Reader struct {
	path string
	file *os.File
	buf  *bufio.Reader

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	SamplesRead    int64
	BytesRead      int64
	CorruptRecords int64
	TornRecords    int64
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(walMagic), magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
		buf:  bufio.NewReader(f),
	}, nil
}

// ReadAll reads every intact batch of the segment and flattens it to
// samples. Records failing their checksum are skipped; a torn tail ends
// the read without error.
func (r *Reader) ReadAll() ([]types.Sample[float64], error) {
	var all []types.Sample[float64]

	for {
		b, err := r.ReadRecord()
		if err == io.EOF || err == errTornRecord {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			continue
		}
		all = append(all, b.Samples()...)
	}

	return all, nil
}

// ReadRecord reads the next batch from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() (*wire.Batch, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.buf, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		r.stats.TornRecords++
		return nil, errTornRecord
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		r.stats.TornRecords++
		return nil, errTornRecord
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		r.stats.TornRecords++
		return nil, errTornRecord
	}
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	if actualCRC := crc32.ChecksumIEEE(payload); actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	_, b, err := decodeBatch(payload)
	if err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.SamplesRead += int64(b.Len())
	return b, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment reads all samples from a segment file.
func ReadSegment(path string) ([]types.Sample[float64], error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReadAllSegments reads all samples from multiple segment files in order.
func ReadAllSegments(paths []string) ([]types.Sample[float64], error) {
	var all []types.Sample[float64]

	for _, path := range paths {
		samples, err := ReadSegment(path)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", path, err)
		}
		all = append(all, samples...)
	}

	return all, nil
}

// Replay calls fn for every intact batch of every segment in dir, oldest
// segment first, and returns the summed reader statistics. An error from fn
// stops the replay.
func Replay(dir string, fn func(b *wire.Batch) error) (ReaderStats, error) {
	var total ReaderStats

	paths, err := ListSegments(dir)
	if err != nil {
		return total, fmt.Errorf("list segments: %w", err)
	}

	for _, path := range paths {
		r, err := NewReader(path)
		if err != nil {
			// An empty segment left by a crash right after creation.
			total.CorruptRecords++
			continue
		}

		for {
			b, err := r.ReadRecord()
			if err == io.EOF || err == errTornRecord {
				break
			}
			if err != nil {
				r.stats.CorruptRecords++
				continue
			}
			if err := fn(b); err != nil {
				r.Close()
				return total, err
			}
		}

		s := r.Stats()
		total.RecordsRead += s.RecordsRead
		total.SamplesRead += s.SamplesRead
		total.BytesRead += s.BytesRead
		total.CorruptRecords += s.CorruptRecords
		total.TornRecords += s.TornRecords
		r.Close()
	}

	return total, nil
}

// Iterator iterates over samples in a segment.
type Iterator struct {
	reader   *Reader
	buffer   []types.Sample[float64]
	position int
	done     bool
	err      error
}

// NewIterator creates an iterator for a segment file.
func NewIterator(path string) (*Iterator, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}

	return &Iterator{
		reader: r,
	}, nil
}

// Next advances to the next sample.
// Returns false when there are no more samples.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for it.position >= len(it.buffer) {
		b, err := it.reader.ReadRecord()
		if err == io.EOF || err == errTornRecord {
			it.done = true
			return false
		}
		if err != nil {
			it.err = err
			return false
		}

		it.buffer = b.Samples()
		it.position = 0
	}

	return true
}

// Sample returns the current sample and moves past it.
func (it *Iterator) Sample() types.Sample[float64] {
	if it.position < len(it.buffer) {
		s := it.buffer[it.position]
		it.position++
		return s
	}
	return types.Sample[float64]{}
}

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Close closes the iterator.
func (it *Iterator) Close() error {
	return it.reader.Close()
}
