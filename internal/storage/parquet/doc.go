// Package parquet implements Parquet file reading and writing for exported
// samples and window aggregates.
//
// The package provides:
//   - SampleWriter/SampleReader for raw vector samples, one row per sample
//   - AggregateWriter/AggregateReader for window summaries, one row per component
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Export file naming shared by the flush worker, retention and queries
package parquet
