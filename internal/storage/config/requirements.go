package config

import (
	"fmt"
	"time"

	"github.com/xtxerr/timering/internal/constants"
)

// Requirements represents estimated resource requirements.
type Requirements struct {
	// Memory requirements
	BufferBytes     int64
	QueryCacheBytes int64
	TotalRAMBytes   int64

	// Samples the buffer holds at steady state; 0 when unbounded.
	BufferSamples int64

	// Export storage
	ExportBytesPerDay  int64
	ExportStorageBytes int64

	// Throughput
	SamplesPerSecond int64
	BytesPerSecond   int64
}

// Constants for calculations
const (
	// Bytes per stamp (int64 nanoseconds)
	bytesPerStamp = 8

	// Bytes per stored component (float64)
	bytesPerComponent = 8

	// Compression ratio for Parquet
	compressionRatio = 5

	// Headroom for the Go runtime
	runtimeOverheadBytes = 256 * 1024 * 1024
)

// SampleBytes returns the in-memory size of one sample.
func (c *BufferConfig) SampleBytes() int64 {
	return int64(bytesPerStamp + c.Dimension*bytesPerComponent)
}

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	r.SamplesPerSecond = int64(c.Buffer.ExpectedRate)
	r.BytesPerSecond = r.SamplesPerSecond * c.Buffer.SampleBytes()

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	switch c.Buffer.Kind {
	case constants.BufferKindGrowable:
		window := c.Buffer.Window
		if c.Retention.MaxAge > 0 && (window <= 0 || c.Retention.MaxAge < window) {
			window = c.Retention.MaxAge
		}
		if window > 0 {
			r.BufferSamples = int64(c.Buffer.ExpectedRate * window.Seconds())
		}
	default:
		r.BufferSamples = int64(c.Buffer.Capacity)
	}
	r.BufferBytes = r.BufferSamples * c.Buffer.SampleBytes()

	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)

	r.TotalRAMBytes = r.BufferBytes + r.QueryCacheBytes + runtimeOverheadBytes

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	if c.Export.Interval > 0 {
		r.ExportBytesPerDay = r.BytesPerSecond * 86400 / compressionRatio
		retentionDays := float64(c.Retention.ExportMaxAge) / float64(24*time.Hour)
		r.ExportStorageBytes = int64(float64(r.ExportBytesPerDay) * retentionDays)
	}

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	samples := formatNumber(r.BufferSamples)
	if r.BufferSamples == 0 {
		samples = "unbounded"
	}

	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Samples/sec:       %s
  Bytes/sec:         %s

Memory:
  Buffer:            %s (%s samples)
  Query Cache:       %s
  Total RAM:         %s (recommended)

Export:
  Per Day:           %s
  Retained:          %s
`,
		formatNumber(r.SamplesPerSecond),
		formatBytes(r.BytesPerSecond),
		formatBytes(r.BufferBytes),
		samples,
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.ExportBytesPerDay),
		formatBytes(r.ExportStorageBytes),
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 1024 * 1024 * 1024 // Default 1GB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return 0
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
