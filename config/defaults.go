// Package config provides configuration defaults for timering.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Buffer Defaults
// =============================================================================

const (
	// DefaultBufferKind selects the history implementation: "ring" or "growable".
	// Override via config: buffer.kind
	DefaultBufferKind = "ring"

	// DefaultBufferCapacity is the number of samples a ring holds before it
	// starts overwriting the oldest one.
	// Override via config: buffer.capacity
	DefaultBufferCapacity = 3600

	// DefaultBufferDimension is the number of components per sample.
	// Override via config: buffer.dimension
	DefaultBufferDimension = 1

	// DefaultBufferStream names the live history in export files and queries.
	// Override via config: buffer.stream
	DefaultBufferStream = "default"

	// DefaultBufferWindow trims a growable history to this age.
	// Zero disables trimming.
	// Override via config: buffer.window
	DefaultBufferWindow = time.Duration(0)
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionInterval is how often registered histories are trimmed.
	// Override via config: retention.interval
	DefaultRetentionInterval = 10 * time.Second

	// DefaultRetentionMaxAge is the age window kept relative to the newest sample.
	// Zero disables age eviction.
	// Override via config: retention.max_age
	DefaultRetentionMaxAge = time.Hour

	// DefaultExportRetention is how long exported parquet files are kept.
	// Override via config: retention.export_max_age
	DefaultExportRetention = 48 * time.Hour
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportDir is where flushed samples are written as parquet.
	// Override via config: export.dir
	DefaultExportDir = "/var/lib/timering/export"

	// DefaultExportInterval is how often new samples are flushed.
	// Zero disables the flush worker.
	// Override via config: export.interval
	DefaultExportInterval = time.Minute

	// DefaultExportCompression is the parquet codec: snappy, zstd, lz4, gzip, none.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"

	// DefaultExportRowGroupSize is the maximum rows per parquet row group.
	// Override via config: export.row_group_size
	DefaultExportRowGroupSize = 64 * 1024
)

// =============================================================================
// WAL Defaults
// =============================================================================

const (
	// DefaultWALSyncMode is the WAL sync mode: async, sync, fsync.
	// Override via config: wal.sync_mode
	DefaultWALSyncMode = "async"

	// DefaultWALSyncInterval is how often buffered WAL records are flushed
	// in async mode.
	// Override via config: wal.sync_interval
	DefaultWALSyncInterval = time.Second

	// DefaultWALMaxSegmentSize rotates a segment once it reaches this size.
	// Override via config: wal.max_segment_size
	DefaultWALMaxSegmentSize = 64 * 1024 * 1024
)

// =============================================================================
// Compaction Defaults
// =============================================================================

const (
	// DefaultCompactionWorkers is the number of parallel merge workers.
	// Override via config: compaction.workers
	DefaultCompactionWorkers = 2

	// DefaultCompactionInterval is how often closed windows are scanned.
	// Override via config: compaction.interval
	DefaultCompactionInterval = 10 * time.Minute

	// DefaultCompactionWindow groups export files into one file per window.
	// Override via config: compaction.window
	DefaultCompactionWindow = time.Hour
)

// =============================================================================
// Backpressure Defaults
// =============================================================================

const (
	// Export lag thresholds, as a fraction of ring capacity not yet exported.
	// Override via config: backpressure.thresholds.*
	DefaultBackpressureWarning   = 0.50
	DefaultBackpressureCritical  = 0.80
	DefaultBackpressureEmergency = 0.95

	// DefaultBackpressureHysteresis prevents level flapping.
	// Override via config: backpressure.recovery.hysteresis
	DefaultBackpressureHysteresis = 0.10

	// DefaultBackpressureCooldown is the minimum time between level checks.
	// Override via config: backpressure.recovery.cooldown
	DefaultBackpressureCooldown = time.Second
)

// =============================================================================
// Wire Defaults
// =============================================================================

const (
	// DefaultMaxFrameSize limits a single batch frame to prevent OOM
	// while replaying.
	// Override via config: wire.max_frame_size
	DefaultMaxFrameSize = 16 * 1024 * 1024

	// DefaultReplayBatchSize is the number of samples per replayed batch.
	// Override via config: wire.batch_size
	DefaultReplayBatchSize = 1000
)

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListen is the address the ingest server accepts frames on.
	// Override via config: server.listen
	DefaultListen = "127.0.0.1:9170"

	// DefaultIdleTimeout closes connections that send nothing for this long.
	// Override via config: server.idle_timeout
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultFailureWindow is the window in which malformed frames from one
	// peer are counted before it is blocked.
	// Override via config: server.failure_window
	DefaultFailureWindow = time.Minute

	// DefaultClientTimeout bounds dialing and waiting for a batch ack.
	DefaultClientTimeout = 30 * time.Second
)

// =============================================================================
// Aggregate Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the DDSketch relative accuracy (0.01 = 1% error).
	// Override via config: aggregate.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultAggregateBucket is the tumbling window of per-stream summaries.
	// Override via config: aggregate.bucket
	DefaultAggregateBucket = time.Minute
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit is the DuckDB memory limit.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"

	// DefaultQueryTimeout bounds a single query.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps rows returned by a range query.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 1000000
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long Stop waits for a final flush.
	// Override via config: export.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)
