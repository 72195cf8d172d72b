package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/timering/config"
)

// Config represents the complete timering configuration.
type Config struct {
	// DataDir is the root directory for exported files.
	DataDir string `yaml:"data_dir"`

	// Buffer selects and sizes the in-memory history.
	Buffer BufferConfig `yaml:"buffer"`

	// Retention configures periodic eviction.
	Retention RetentionConfig `yaml:"retention"`

	// Export configures the parquet flush worker.
	Export ExportConfig `yaml:"export"`

	// WAL configures the write-ahead log of ingested batches.
	WAL WALConfig `yaml:"wal"`

	// Compaction configures merging of small export files.
	Compaction CompactionConfig `yaml:"compaction"`

	// Backpressure configures export lag monitoring.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Wire configures batch frame decoding.
	Wire WireConfig `yaml:"wire"`

	// Aggregate configures window summaries.
	Aggregate AggregateConfig `yaml:"aggregate"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Server configures the TCP ingest server.
	Server ServerConfig `yaml:"server"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`
}

// BufferConfig selects and sizes the in-memory history.
type BufferConfig struct {
	// Kind is the history implementation: ring, growable.
	Kind string `yaml:"kind"`

	// Stream names the history in export files and queries.
	Stream string `yaml:"stream"`

	// Capacity is the ring size in samples. Ignored for growable.
	Capacity int `yaml:"capacity"`

	// Dimension is the number of components per sample.
	Dimension int `yaml:"dimension"`

	// Window trims a growable history to this age. Ignored for ring.
	Window time.Duration `yaml:"window"`

	// ExpectedRate is the expected insert rate in samples per second.
	// Only used for resource estimates.
	ExpectedRate float64 `yaml:"expected_rate"`
}

// RetentionConfig configures periodic eviction.
type RetentionConfig struct {
	// Interval is how often retention runs.
	Interval time.Duration `yaml:"interval"`

	// MaxAge keeps [newest-max_age, newest] in every history. Zero disables.
	MaxAge time.Duration `yaml:"max_age"`

	// ExportMaxAge is how long exported files are kept. Zero keeps them forever.
	ExportMaxAge time.Duration `yaml:"export_max_age"`
}

// ExportConfig configures the parquet flush worker.
type ExportConfig struct {
	// Dir is the export directory. Defaults to {DataDir}/export.
	Dir string `yaml:"dir"`

	// Interval is the flush interval. Zero disables the worker.
	Interval time.Duration `yaml:"interval"`

	// Compression configures parquet compression.
	Compression CompressionConfig `yaml:"compression"`

	// RowGroupSize is the maximum rows per row group.
	RowGroupSize int `yaml:"row_group_size"`

	// DrainTimeout bounds the final flush on shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// CompressionConfig configures parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	// Enabled logs every ingested batch before it is inserted. Requires
	// export, which is what allows segments to be deleted.
	Enabled bool `yaml:"enabled"`

	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// CompactionConfig configures merging of small export files.
type CompactionConfig struct {
	// Workers is the number of parallel compaction workers.
	Workers int `yaml:"workers"`

	// Interval is how often closed windows are scanned. Zero disables.
	Interval time.Duration `yaml:"interval"`

	// Window groups export files by flush time; every closed window with
	// more than one file per stream is merged into one.
	Window time.Duration `yaml:"window"`
}

// BackpressureConfig configures export lag monitoring.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines export lag thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines export lag thresholds, as the fraction of
// ring capacity not yet exported.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-1.0).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level changes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WireConfig configures batch frame decoding.
type WireConfig struct {
	// MaxFrameSize is the largest accepted frame in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`

	// BatchSize is the number of samples per encoded batch.
	BatchSize int `yaml:"batch_size"`
}

// AggregateConfig configures window summaries.
type AggregateConfig struct {
	// Accuracy is the DDSketch relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`

	// Bucket is the tumbling window of per-stream summaries.
	Bucket time.Duration `yaml:"bucket"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// ServerConfig configures the TCP ingest server.
type ServerConfig struct {
	// Listen is the address to listen on (e.g., "0.0.0.0:9170").
	Listen string `yaml:"listen"`

	// TLS configuration (optional). Both files or neither.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables the deadline.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// FailureWindow is how long malformed frames count against a peer.
	FailureWindow time.Duration `yaml:"failure_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches from text to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/timering",
		Buffer: BufferConfig{
			Kind:      defaults.DefaultBufferKind,
			Stream:    defaults.DefaultBufferStream,
			Capacity:  defaults.DefaultBufferCapacity,
			Dimension: defaults.DefaultBufferDimension,
			Window:    defaults.DefaultBufferWindow,
		},
		Retention: RetentionConfig{
			Interval:     defaults.DefaultRetentionInterval,
			MaxAge:       defaults.DefaultRetentionMaxAge,
			ExportMaxAge: defaults.DefaultExportRetention,
		},
		Export: ExportConfig{
			Interval: defaults.DefaultExportInterval,
			Compression: CompressionConfig{
				Algorithm: defaults.DefaultExportCompression,
				Level:     3,
			},
			RowGroupSize: defaults.DefaultExportRowGroupSize,
			DrainTimeout: defaults.DefaultDrainTimeout,
		},
		WAL: WALConfig{
			Enabled:        true,
			SyncMode:       defaults.DefaultWALSyncMode,
			SyncInterval:   defaults.DefaultWALSyncInterval,
			MaxSegmentSize: defaults.DefaultWALMaxSegmentSize,
		},
		Compaction: CompactionConfig{
			Workers:  defaults.DefaultCompactionWorkers,
			Interval: defaults.DefaultCompactionInterval,
			Window:   defaults.DefaultCompactionWindow,
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   defaults.DefaultBackpressureWarning,
				Critical:  defaults.DefaultBackpressureCritical,
				Emergency: defaults.DefaultBackpressureEmergency,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: defaults.DefaultBackpressureHysteresis,
				Cooldown:   defaults.DefaultBackpressureCooldown,
			},
		},
		Wire: WireConfig{
			MaxFrameSize: defaults.DefaultMaxFrameSize,
			BatchSize:    defaults.DefaultReplayBatchSize,
		},
		Aggregate: AggregateConfig{
			Accuracy: defaults.DefaultSketchAccuracy,
			Bucket:   defaults.DefaultAggregateBucket,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     defaults.DefaultQueryTimeout,
			MaxRows:     defaults.DefaultQueryMaxRows,
		},
		Server: ServerConfig{
			Listen:        defaults.DefaultListen,
			IdleTimeout:   defaults.DefaultIdleTimeout,
			FailureWindow: defaults.DefaultFailureWindow,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
