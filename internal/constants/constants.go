// Package constants provides centralized domain-specific constants
// for the entire timering application.
//
// This file consolidates the magic strings accepted in configuration and
// on the command line.
package constants

// =============================================================================
// Buffer Kinds - History implementation selected by buffer.kind
// =============================================================================

const (
	// BufferKindRing is a fixed-capacity history that overwrites its oldest sample
	BufferKindRing = "ring"

	// BufferKindGrowable is an unbounded history, optionally trimmed by age
	BufferKindGrowable = "growable"
)

// ValidBufferKinds contains all valid buffer kinds
var ValidBufferKinds = []string{BufferKindRing, BufferKindGrowable}

// IsValidBufferKind checks if a kind is valid. Empty selects the ring.
func IsValidBufferKind(kind string) bool {
	return kind == "" || contains(ValidBufferKinds, kind)
}

// =============================================================================
// WAL Sync Modes
// =============================================================================

const (
	// SyncModeAsync buffers records and flushes them on a ticker
	SyncModeAsync = "async"

	// SyncModeSync flushes to the OS after each write
	SyncModeSync = "sync"

	// SyncModeFsync flushes and fsyncs after each write
	SyncModeFsync = "fsync"
)

// ValidSyncModes contains all valid WAL sync modes
var ValidSyncModes = []string{SyncModeAsync, SyncModeSync, SyncModeFsync}

// IsValidSyncMode checks if a sync mode is valid. Empty selects async.
func IsValidSyncMode(mode string) bool {
	return mode == "" || contains(ValidSyncModes, mode)
}

// IsAsyncSyncMode reports whether mode buffers writes until the next sync.
func IsAsyncSyncMode(mode string) bool {
	return mode == "" || mode == SyncModeAsync
}

// =============================================================================
// Compression Algorithms - Parquet page compression
// =============================================================================

const (
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionLZ4    = "lz4"
	CompressionGzip   = "gzip"
	CompressionNone   = "none"
)

// ValidCompressions contains all valid compression algorithms
var ValidCompressions = []string{CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip, CompressionNone}

// IsValidCompression checks if an algorithm is valid. Empty selects zstd.
func IsValidCompression(algo string) bool {
	return algo == "" || contains(ValidCompressions, algo)
}

// =============================================================================
// Connection States - Ingest client lifecycle
// =============================================================================

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateClosing      = "closing"
	StateClosed       = "closed"
)

// =============================================================================
// Server Limits
// =============================================================================

const (
	// MalformedFramesBeforeBlock is the number of undecodable frames a peer
	// may send within the failure window before its connections are refused
	MalformedFramesBeforeBlock = 5
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
