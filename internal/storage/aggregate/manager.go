package aggregate

import (
	"sync"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Manager maintains one tumbling-window aggregate per named stream.
// It handles bucket transitions and flushing completed aggregates.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	bucketSize         time.Duration
	percentileAccuracy float64 // 0 disables percentiles

	// Active aggregates by stream name
	aggregates map[string]*WindowAggregate

	// Completed aggregates waiting to be flushed
	completed []Completed

	// Statistics
	stats ManagerStats
}

// Completed is a finished bucket of one stream.
type Completed struct {
	Stream string
	Result types.AggregateResult
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	ActiveAggregates int64
	CompletedPending int64
	SamplesProcessed int64
	SamplesRejected  int64
	BucketsCompleted int64
	FlushesPerformed int64
}

// NewManager creates a new aggregate manager. accuracy <= 0 disables
// percentiles.
func NewManager(bucketSize time.Duration, accuracy float64) *Manager {
	if bucketSize <= 0 {
		bucketSize = time.Minute
	}
	return &Manager{
		bucketSize:         bucketSize,
		percentileAccuracy: accuracy,
		aggregates:         make(map[string]*WindowAggregate),
		completed:          make([]Completed, 0, 64),
	}
}

// Process adds a sample of stream to the aggregate for its bucket.
// If the sample belongs to a later bucket, the current one is completed.
// Samples older than the current bucket are rejected with ErrOutOfOrder.
func (m *Manager) Process(stream string, sample types.Sample[float64]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketStart, bucketEnd := m.calculateBucket(sample.Stamp)

	agg, exists := m.aggregates[stream]
	switch {
	case !exists:
		agg = NewWithAccuracy(sample.Dim(), bucketStart, bucketEnd, m.percentileAccuracy)
		m.aggregates[stream] = agg
	case bucketStart > agg.WindowStart():
		m.complete(stream, agg)
		agg.Reset(bucketStart, bucketEnd)
	case bucketStart < agg.WindowStart():
		m.stats.SamplesRejected++
		return errors.NewOutOfOrder(sample.Stamp, agg.WindowStart())
	}

	if err := agg.AddSample(sample); err != nil {
		m.stats.SamplesRejected++
		return err
	}
	m.stats.SamplesProcessed++
	return nil
}

// ProcessBatch processes samples in order and returns the first error.
// Later samples are still processed.
func (m *Manager) ProcessBatch(stream string, samples []types.Sample[float64]) error {
	var first error
	for i := range samples {
		if err := m.Process(stream, samples[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// complete moves a non-empty aggregate to the completed list. Callers hold mu.
func (m *Manager) complete(stream string, agg *WindowAggregate) {
	if agg.IsEmpty() {
		return
	}
	m.completed = append(m.completed, Completed{Stream: stream, Result: agg.Result()})
	m.stats.BucketsCompleted++
}

// FlushCompleted returns and clears all completed aggregates.
func (m *Manager) FlushCompleted() []Completed {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}

	result := m.completed
	m.completed = make([]Completed, 0, 64)
	m.stats.FlushesPerformed++

	return result
}

// FlushAll completes all active aggregates and returns them.
// This is typically called during shutdown.
func (m *Manager) FlushAll() []Completed {
	m.mu.Lock()
	defer m.mu.Unlock()

	for stream, agg := range m.aggregates {
		m.complete(stream, agg)
	}
	m.aggregates = make(map[string]*WindowAggregate)

	result := m.completed
	m.completed = make([]Completed, 0, 64)
	m.stats.FlushesPerformed++

	return result
}

// FlushOlderThan completes aggregates whose bucket started before cutoff.
func (m *Manager) FlushOlderThan(cutoff int64) []Completed {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flushed []Completed
	for stream, agg := range m.aggregates {
		if agg.WindowStart() < cutoff {
			if !agg.IsEmpty() {
				flushed = append(flushed, Completed{Stream: stream, Result: agg.Result()})
				m.stats.BucketsCompleted++
			}
			delete(m.aggregates, stream)
		}
	}
	return flushed
}

// Current returns the in-progress result of a stream's bucket.
func (m *Manager) Current(stream string) (types.AggregateResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.aggregates[stream]
	if !ok || agg.IsEmpty() {
		return types.AggregateResult{}, false
	}
	return agg.Result(), true
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.ActiveAggregates = int64(len(m.aggregates))
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// ActiveCount returns the number of active aggregates.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aggregates)
}

// CompletedCount returns the number of completed aggregates pending flush.
func (m *Manager) CompletedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.completed)
}

// calculateBucket returns the bucket containing stamp. Buckets are aligned
// to multiples of the bucket size, also for negative stamps.
func (m *Manager) calculateBucket(stamp int64) (start, end int64) {
	size := int64(m.bucketSize)
	start = stamp - stamp%size
	if stamp%size < 0 {
		start -= size
	}
	return start, start + size
}

// BucketSize returns the configured bucket size.
func (m *Manager) BucketSize() time.Duration {
	return m.bucketSize
}
