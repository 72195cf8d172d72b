// Package retention evicts aged samples from registered histories and
// removes expired export files.
package retention

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/parquet"
)

// Evictor is the part of a history retention needs.
type Evictor interface {
	RemoveDataOlderThan(age time.Duration) int
}

// Manager handles automatic cleanup of expired data.
type Manager struct {
	mu       sync.RWMutex
	config   *config.Config
	evictors map[string]Evictor
	stats    ManagerStats
	now      func() time.Time
}

// Result holds the result of one retention pass.
type Result struct {
	Evicted      map[string]int
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// TotalEvicted returns the number of samples evicted across all histories.
func (r *Result) TotalEvicted() int {
	n := 0
	for _, e := range r.Evicted {
		n += e
	}
	return n
}

// New creates a new retention manager.
func New(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Manager{
		config:   cfg,
		evictors: make(map[string]Evictor),
		now:      time.Now,
	}
}

// Register adds a history under name, replacing any previous one.
func (m *Manager) Register(name string, e Evictor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictors[name] = e
}

// Unregister removes a history.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.evictors, name)
}

// Names returns the registered history names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.evictors))
	for name := range m.evictors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce evicts samples older than Retention.MaxAge from every registered
// history and deletes export files older than Retention.ExportMaxAge.
func (m *Manager) RunOnce() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := Result{Evicted: make(map[string]int)}

	if age := m.config.Retention.MaxAge; age > 0 {
		for name, e := range m.evictors {
			if n := e.RemoveDataOlderThan(age); n > 0 {
				result.Evicted[name] = n
			}
		}
	}

	m.cleanupExports(&result, false)

	m.stats.LastRunTime = m.now()
	m.stats.Runs++
	m.stats.SamplesEvicted += int64(result.TotalEvicted())
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	return result
}

// DryRun reports which export files RunOnce would delete. Histories are
// not touched.
func (m *Manager) DryRun() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := Result{Evicted: make(map[string]int)}
	m.cleanupExports(&result, true)
	return result
}

// Run calls RunOnce every Retention.Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.config.Retention.Interval
	if interval <= 0 {
		return
	}

	logger := logging.Component("retention")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := m.RunOnce()
			if n := result.TotalEvicted(); n > 0 || result.FilesDeleted > 0 {
				logger.Debug("retention pass",
					"evicted", n,
					"files_deleted", result.FilesDeleted,
					"bytes_freed", result.BytesFreed,
				)
			}
			for _, err := range result.Errors {
				logger.Warn("retention error", "error", err)
			}
		}
	}
}

// cleanupExports deletes export files whose flush time is before the cutoff.
func (m *Manager) cleanupExports(result *Result, dryRun bool) {
	maxAge := m.config.Retention.ExportMaxAge
	if maxAge <= 0 {
		return
	}
	cutoff := m.now().Add(-maxAge)

	files, err := parquet.ListFiles(m.config.ExportDir())
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		return
	}

	for _, file := range files {
		if file.Time.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.Path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.Path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.Size
	}
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	LastRunTime    time.Time
	Runs           int64
	SamplesEvicted int64
	FilesDeleted   int64
	BytesFreed     int64
	FilesSkipped   int64
	Errors         int64
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns export disk usage per file kind.
func (m *Manager) GetDiskUsage() map[parquet.FileKind]DiskUsage {
	usage := make(map[parquet.FileKind]DiskUsage)

	files, err := parquet.ListFiles(m.config.ExportDir())
	if err != nil {
		return usage
	}

	for _, f := range files {
		u := usage[f.Kind]
		u.FileCount++
		u.TotalSize += f.Size
		usage[f.Kind] = u
	}
	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var result string
	var totalSize int64
	var totalFiles int

	for _, kind := range []parquet.FileKind{parquet.KindSamples, parquet.KindAggregates} {
		u := usage[kind]
		totalSize += u.TotalSize
		totalFiles += u.FileCount

		result += fmt.Sprintf("  %s: %d files, %s\n", kind, u.FileCount, formatBytes(u.TotalSize))
	}

	return fmt.Sprintf("Disk Usage:\n%s  Total: %d files, %s\n",
		result, totalFiles, formatBytes(totalSize))
}

// formatBytes formats bytes as human-readable string.
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
