package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/timering/internal/constants"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/validation"
)

// Validate checks the configuration for errors. Every problem is reported;
// each wraps errors.ErrInvalidConfig or errors.ErrMissingField.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" && c.Export.Dir == "" {
		errs = append(errs, errors.NewMissingField("data_dir"))
	}

	sections := []struct {
		name string
		err  error
	}{
		{"buffer", c.Buffer.Validate()},
		{"retention", c.Retention.Validate()},
		{"export", c.Export.Validate()},
		{"wal", c.WAL.Validate()},
		{"compaction", c.Compaction.Validate()},
		{"backpressure", c.Backpressure.Validate()},
		{"wire", c.Wire.Validate()},
		{"aggregate", c.Aggregate.Validate()},
		{"query", c.Query.Validate()},
		{"server", c.Server.Validate()},
		{"logging", c.Logging.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, s.err))
		}
	}

	if c.WAL.Enabled && c.Export.Interval <= 0 {
		errs = append(errs, fmt.Errorf("wal: %w", errors.NewValidation("enabled", "requires export.interval")))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the buffer configuration.
func (c *BufferConfig) Validate() error {
	var errs []error

	switch {
	case !constants.IsValidBufferKind(c.Kind):
		errs = append(errs, errors.NewValidation("kind", "must be one of: ring, growable"))
	case c.Kind == constants.BufferKindGrowable:
		if c.Window < 0 {
			errs = append(errs, errors.NewValidation("window", "must be non-negative"))
		}
	default:
		if c.Capacity <= 0 {
			errs = append(errs, errors.NewValidation("capacity", "must be positive"))
		}
	}

	if c.Dimension <= 0 {
		errs = append(errs, errors.NewValidation("dimension", "must be positive"))
	}

	if c.Stream != "" {
		if err := validation.ValidateStreamName(c.Stream); err != nil {
			errs = append(errs, errors.NewValidation("stream", err.Error()))
		}
	}

	if c.ExpectedRate < 0 {
		errs = append(errs, errors.NewValidation("expected_rate", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Interval <= 0 && (c.MaxAge > 0 || c.ExportMaxAge > 0) {
		errs = append(errs, errors.NewValidation("interval", "must be positive when eviction is enabled"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.NewValidation("max_age", "must be non-negative"))
	}
	if c.ExportMaxAge < 0 {
		errs = append(errs, errors.NewValidation("export_max_age", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	var errs []error

	if c.Interval < 0 {
		errs = append(errs, errors.NewValidation("interval", "must be non-negative"))
	}

	if !constants.IsValidCompression(c.Compression.Algorithm) {
		errs = append(errs, errors.NewValidation("compression.algorithm", "must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if c.Compression.Algorithm == constants.CompressionZstd && (c.Compression.Level < 0 || c.Compression.Level > 22) {
		errs = append(errs, errors.NewValidation("compression.level", "for zstd must be between 0 and 22"))
	}

	if c.RowGroupSize < 0 {
		errs = append(errs, errors.NewValidation("row_group_size", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if !constants.IsValidSyncMode(c.SyncMode) {
		errs = append(errs, errors.NewValidation("sync_mode", "must be one of: async, sync, fsync"))
	}

	if constants.IsAsyncSyncMode(c.SyncMode) && c.SyncInterval <= 0 {
		errs = append(errs, errors.NewValidation("sync_interval", "must be positive for async mode"))
	}

	if c.MaxSegmentSize < 0 {
		errs = append(errs, errors.NewValidation("max_segment_size", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the compaction configuration.
func (c *CompactionConfig) Validate() error {
	if c.Interval == 0 {
		return nil
	}

	var errs []error

	if c.Interval < 0 {
		errs = append(errs, errors.NewValidation("interval", "must be non-negative"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.NewValidation("workers", "must be positive"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.NewValidation("window", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	// Thresholds must be in order
	t := c.Thresholds
	if t.Warning <= 0 || t.Warning >= 1 {
		errs = append(errs, errors.NewValidation("thresholds.warning", "must be between 0 and 1"))
	}
	if t.Critical <= t.Warning || t.Critical >= 1 {
		errs = append(errs, errors.NewValidation("thresholds.critical", "must be between warning and 1"))
	}
	if t.Emergency <= t.Critical || t.Emergency > 1 {
		errs = append(errs, errors.NewValidation("thresholds.emergency", "must be between critical and 1"))
	}

	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= t.Warning {
		errs = append(errs, errors.NewValidation("recovery.hysteresis", "must be between 0 and the warning threshold"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.NewValidation("recovery.cooldown", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the wire configuration.
func (c *WireConfig) Validate() error {
	var errs []error

	if c.MaxFrameSize <= 0 {
		errs = append(errs, errors.NewValidation("max_frame_size", "must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.NewValidation("batch_size", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the aggregate configuration.
func (c *AggregateConfig) Validate() error {
	var errs []error

	if c.Accuracy <= 0 || c.Accuracy >= 1 {
		errs = append(errs, errors.NewValidation("accuracy", "must be between 0 and 1"))
	}
	if c.Bucket <= 0 {
		errs = append(errs, errors.NewValidation("bucket", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.NewValidation("timeout", "must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.NewValidation("max_rows", "must be positive"))
	}

	if c.MemoryLimit != "" && parseMemoryLimit(c.MemoryLimit) <= 0 {
		errs = append(errs, errors.NewValidation("memory_limit", "must be a size like 512MB or 2GB"))
	}

	return errors.Join(errs...)
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Listen != "" {
		if err := validation.ValidateListenAddress(c.Listen); err != nil {
			errs = append(errs, errors.NewValidation("listen", err.Error()))
		}
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.NewValidation("tls", "cert and key must be set together"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.NewValidation("idle_timeout", "must be non-negative"))
	}
	if c.FailureWindow < 0 {
		errs = append(errs, errors.NewValidation("failure_window", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return errors.NewValidation("level", "must be one of: debug, info, warn, error")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ExportDir()}
	if c.WAL.Enabled {
		dirs = append(dirs, c.WALDir())
	}
	if c.DataDir != "" {
		dirs = append(dirs, c.DataDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ExportDir returns the export directory path.
func (c *Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "export")
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}
