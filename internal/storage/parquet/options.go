package parquet

import (
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/xtxerr/timering/internal/constants"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// RowGroupSize is the maximum number of rows per row group
	RowGroupSize int

	// PageSize is the target page buffer size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// String returns the configuration name of the algorithm.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return constants.CompressionSnappy
	case CompressionZstd:
		return constants.CompressionZstd
	case CompressionLZ4:
		return constants.CompressionLZ4
	case CompressionGzip:
		return constants.CompressionGzip
	default:
		return constants.CompressionNone
	}
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		RowGroupSize:     64 * 1024,
		PageSize:         1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case constants.CompressionSnappy:
		return CompressionSnappy
	case constants.CompressionZstd:
		return CompressionZstd
	case constants.CompressionLZ4:
		return CompressionLZ4
	case constants.CompressionGzip:
		return CompressionGzip
	case constants.CompressionNone:
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType, level int) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &zstd.Codec{Level: zstdLevel(level)}
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// zstdLevel maps a numeric zstd level onto the encoder's speed presets.
func zstdLevel(level int) zstd.Level {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (o Options) writerOptions() []parquet.WriterOption {
	opts := []parquet.WriterOption{
		parquet.Compression(getCompression(o.Compression, o.CompressionLevel)),
	}
	if o.RowGroupSize > 0 {
		opts = append(opts, parquet.MaxRowsPerRowGroup(int64(o.RowGroupSize)))
	}
	if o.PageSize > 0 {
		opts = append(opts, parquet.PageBufferSize(o.PageSize))
	}
	return opts
}
