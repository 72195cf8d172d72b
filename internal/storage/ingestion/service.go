// Package ingestion feeds samples into a live history, keeps per-window
// aggregates, and periodically exports both to Parquet.
//
// With the WAL enabled every batch is logged before it is inserted. Each
// flush rotates the log together with its snapshot of unexported samples,
// so once the export succeeds every older segment can be deleted. Start
// replays whatever segments are left from a previous run.
package ingestion

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/timering/internal/constants"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/aggregate"
	"github.com/xtxerr/timering/internal/storage/buffer"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/parquet"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/storage/wal"
	"github.com/xtxerr/timering/internal/wire"
)

// Service orchestrates the sample ingestion pipeline.
// It manages the flow: Samples → History → Aggregation → Parquet
type Service struct {
	config *config.Config
	stream string
	logger *slog.Logger

	// Components
	history   buffer.History[float64]
	aggregate *aggregate.Manager

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// walMu orders WAL appends with history inserts, and a flush snapshot
	// with the WAL rotation that goes with it.
	walMu sync.Mutex
	wal   *wal.Writer

	// exportMu serializes flushes. The watermark is atomic so lag can be
	// read while a flush is writing.
	exportMu    sync.Mutex
	exportedTo  atomic.Int64
	hasExported atomic.Bool

	// Statistics
	stats Stats

	// Channels
	flushCh chan struct{}
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesReceived   atomic.Int64
	SamplesIngested   atomic.Int64
	OutOfOrder        atomic.Int64
	DimensionErrors   atomic.Int64
	BatchesProcessed  atomic.Int64
	FlushesCompleted  atomic.Int64
	SamplesExported   atomic.Int64
	AggregatesWritten atomic.Int64
	WALRecords        atomic.Int64
	WALSegmentsPruned atomic.Int64
	Recovered         atomic.Int64
	Errors            atomic.Int64
}

// IngestResult reports what happened to one batch.
type IngestResult struct {
	Ingested          int
	OutOfOrder        int
	DimensionMismatch int
}

// Rejected returns the number of samples not inserted.
func (r IngestResult) Rejected() int {
	return r.OutOfOrder + r.DimensionMismatch
}

// New creates a new ingestion service feeding history under the given
// stream name.
func New(cfg *config.Config, stream string, history buffer.History[float64]) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if history == nil {
		return nil, errors.NewMissingField("history")
	}

	return &Service{
		config:    cfg,
		stream:    stream,
		logger:    logging.Component("ingestion").With("stream", stream),
		history:   history,
		aggregate: aggregate.NewManager(cfg.Aggregate.Bucket, cfg.Aggregate.Accuracy),
		flushCh:   make(chan struct{}, 1),
	}, nil
}

// Start starts the flush worker.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	if s.walEnabled() {
		if err := s.openWAL(); err != nil {
			s.running.Store(false)
			return err
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.exportEnabled() {
		s.wg.Add(1)
		go s.flushWorker()
	}
	if s.wal != nil && constants.IsAsyncSyncMode(s.config.WAL.SyncMode) && s.config.WAL.SyncInterval > 0 {
		s.wg.Add(1)
		go s.walSyncWorker()
	}

	s.logger.Info("ingestion started",
		"export_interval", s.config.Export.Interval,
		"wal", s.wal != nil,
	)
	return nil
}

// openWAL replays leftover segments into the history and opens a writer
// on a fresh segment.
func (s *Service) openWAL() error {
	dir := s.config.WALDir()

	res, err := s.recoverWAL(dir)
	if err != nil {
		return errors.Wrap(err, "recover wal")
	}
	if res.Batches > 0 {
		s.logger.Info("recovered wal",
			"batches", res.Batches,
			"ingested", res.Ingested,
			"rejected", res.Rejected(),
		)
	}

	w, err := wal.NewWriter(dir, wal.Options{
		MaxSegmentSize: s.config.WAL.MaxSegmentSize,
		SyncMode:       s.config.WAL.SyncMode,
		SyncInterval:   s.config.WAL.SyncInterval,
	})
	if err != nil {
		return errors.Wrap(err, "open wal")
	}

	s.walMu.Lock()
	s.wal = w
	s.walMu.Unlock()
	return nil
}

// RecoverResult summarizes a WAL replay on start.
type RecoverResult struct {
	Batches int
	IngestResult
}

// recoverWAL inserts every logged batch straight into the history. Samples
// already present are rejected as out of order.
func (s *Service) recoverWAL(dir string) (RecoverResult, error) {
	var res RecoverResult

	_, err := wal.Replay(dir, func(b *wire.Batch) error {
		res.Batches++
		r := s.insert(b.Samples())
		res.Ingested += r.Ingested
		res.OutOfOrder += r.OutOfOrder
		res.DimensionMismatch += r.DimensionMismatch
		return nil
	})

	s.stats.Recovered.Add(int64(res.Ingested))
	return res, err
}

func (s *Service) walSyncWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.WAL.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.wal.Sync(); err != nil {
				s.logger.Warn("wal sync failed", "error", err)
			}
		}
	}
}

func (s *Service) closeWAL() {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	if s.wal == nil {
		return
	}
	if err := s.wal.Close(); err != nil {
		s.logger.Warn("close wal", "error", err)
	}
	s.wal = nil
}

// Stop stops the service and performs a final flush bounded by
// Export.DrainTimeout.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	if !s.exportEnabled() {
		s.closeWAL()
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := s.flush(true)
		s.closeWAL()
		done <- err
	}()

	timeout := s.config.Export.DrainTimeout
	if timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		s.logger.Warn("final flush timed out", "timeout", timeout)
		return errors.ErrTimeout
	}
}

// Ingest inserts samples in order. Samples the history rejects are counted
// and skipped; the rest of the batch is still ingested.
func (s *Service) Ingest(samples []types.Sample[float64]) (IngestResult, error) {
	var result IngestResult

	if !s.running.Load() {
		return result, errors.ErrNotRunning
	}
	if len(samples) == 0 {
		return result, nil
	}

	s.stats.SamplesReceived.Add(int64(len(samples)))

	s.walMu.Lock()
	if s.wal != nil {
		// Only samples of the right shape can be encoded; the rest are
		// rejected by insert anyway.
		logged := samples
		if !sameDim(samples, s.history.Dim()) {
			logged = make([]types.Sample[float64], 0, len(samples))
			for _, sample := range samples {
				if len(sample.Value) == s.history.Dim() {
					logged = append(logged, sample)
				}
			}
		}
		if err := s.wal.WriteSamples(s.history.Dim(), logged); err != nil {
			s.walMu.Unlock()
			s.stats.Errors.Add(1)
			return result, errors.Wrap(err, "write wal")
		}
		if len(logged) > 0 {
			s.stats.WALRecords.Add(1)
		}
	}
	result = s.insert(samples)
	s.walMu.Unlock()

	s.stats.SamplesIngested.Add(int64(result.Ingested))
	s.stats.OutOfOrder.Add(int64(result.OutOfOrder))
	s.stats.DimensionErrors.Add(int64(result.DimensionMismatch))
	s.stats.BatchesProcessed.Add(1)

	if result.Rejected() > 0 {
		s.logger.Debug("samples rejected",
			"out_of_order", result.OutOfOrder,
			"dimension_mismatch", result.DimensionMismatch,
		)
	}
	return result, nil
}

// insert adds samples to the history and the aggregates, counting
// rejections.
func (s *Service) insert(samples []types.Sample[float64]) IngestResult {
	var result IngestResult

	for i := range samples {
		sample := samples[i]

		if err := s.history.Insert(sample.Stamp, sample.Value); err != nil {
			if errors.Is(err, errors.ErrDimensionMismatch) {
				result.DimensionMismatch++
			} else {
				result.OutOfOrder++
			}
			continue
		}
		result.Ingested++

		// The history already enforces ordering, so the aggregate only
		// sees samples that advance time.
		if err := s.aggregate.Process(s.stream, sample); err != nil {
			s.stats.Errors.Add(1)
			s.logger.Debug("aggregate rejected sample", "stamp", sample.Stamp, "error", err)
		}
	}
	return result
}

func sameDim(samples []types.Sample[float64], dim int) bool {
	for _, sample := range samples {
		if len(sample.Value) != dim {
			return false
		}
	}
	return true
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Frames      int
	ErrorFrames int
	IngestResult
}

// Replay decodes frames from r and ingests their batches until r is
// exhausted or ctx is cancelled. Decoding and insertion run as separate
// stages. Error frames are counted and skipped.
func (s *Service) Replay(ctx context.Context, r *wire.Reader) (ReplayResult, error) {
	var result ReplayResult

	if !s.running.Load() {
		return result, errors.ErrNotRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan *wire.Batch, 16)

	g.Go(func() error {
		defer close(batches)
		for {
			f, err := r.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}

			result.Frames++
			if f.Error != nil {
				result.ErrorFrames++
				s.logger.Warn("replay error frame", "seq", f.Seq, "code", errors.CodeName(f.Error.Code), "message", f.Error.Message)
				continue
			}
			if f.Batch == nil {
				continue
			}

			select {
			case batches <- f.Batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var ingested IngestResult
	g.Go(func() error {
		for b := range batches {
			res, err := s.Ingest(b.Samples())
			ingested.Ingested += res.Ingested
			ingested.OutOfOrder += res.OutOfOrder
			ingested.DimensionMismatch += res.DimensionMismatch
			if err != nil {
				return err
			}
			if err := gctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	result.IngestResult = ingested

	s.logger.Info("replay finished",
		"frames", result.Frames,
		"ingested", result.Ingested,
		"rejected", result.Rejected(),
	)
	return result, err
}

// flushWorker periodically exports new samples and completed aggregates.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Export.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flushAndLog()
		case <-s.flushCh:
			s.flushAndLog()
		}
	}
}

func (s *Service) flushAndLog() {
	if err := s.flush(false); err != nil {
		s.logger.Error("flush failed", "error", err)
	}
}

// ForceFlush triggers an immediate asynchronous flush.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Flush synchronously exports samples inserted since the last flush and
// every completed aggregate.
func (s *Service) Flush() error {
	return s.flush(false)
}

// flush writes new samples and completed aggregates. With all set, the
// open aggregate windows are closed and written as well.
func (s *Service) flush(all bool) error {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	var errs []error

	series, walSeq, rotated, err := s.snapshotUnexported()
	if err != nil {
		errs = append(errs, err)
	}

	if err := s.exportSamples(series); err != nil {
		errs = append(errs, err)
	} else if rotated {
		s.pruneWAL(walSeq)
	}

	var completed []aggregate.Completed
	if all {
		completed = s.aggregate.FlushAll()
	} else {
		completed = s.aggregate.FlushCompleted()
	}
	if err := s.writeAggregates(completed); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.stats.Errors.Add(1)
		return err
	}
	s.stats.FlushesCompleted.Add(1)
	return nil
}

// snapshotUnexported copies every sample newer than the watermark and, with
// the WAL enabled, rotates it under the same lock. Every segment below the
// returned sequence holds only samples in the copy or older.
func (s *Service) snapshotUnexported() (types.Series[float64], int64, bool, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	var (
		seq     int64
		rotated bool
		err     error
	)
	if s.wal != nil {
		if seq, err = s.wal.Rotate(); err != nil {
			err = errors.Wrap(err, "rotate wal")
		} else {
			rotated = true
		}
	}

	var series types.Series[float64]
	s.history.Snapshot(func(v *buffer.View[float64]) error {
		series = v.Range(s.firstUnexported(v), v.Len())
		return nil
	})
	return series, seq, rotated, err
}

func (s *Service) firstUnexported(v *buffer.View[float64]) int {
	if !s.hasExported.Load() {
		return 0
	}
	return v.LowerBound(s.exportedTo.Load() + 1)
}

func (s *Service) pruneWAL(seq int64) {
	s.walMu.Lock()
	w := s.wal
	s.walMu.Unlock()
	if w == nil {
		return
	}

	n, err := w.DeleteSegmentsBefore(seq)
	if err != nil {
		s.logger.Warn("prune wal", "error", err)
		return
	}
	s.stats.WALSegmentsPruned.Add(int64(n))
}

// exportSamples writes series to a new samples file and advances the
// watermark. Callers hold exportMu.
func (s *Service) exportSamples(series types.Series[float64]) error {
	if series.IsEmpty() {
		return nil
	}

	path := s.exportPath(parquet.KindSamples)
	w, err := parquet.NewSampleWriter(path, s.parquetOptions())
	if err != nil {
		return errors.Wrap(err, "create sample writer")
	}
	if err := w.WriteSeries(s.stream, series); err != nil {
		w.Abort()
		return errors.Wrap(err, "write samples")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close sample writer")
	}

	s.exportedTo.Store(series.Stamps[series.Len()-1])
	s.hasExported.Store(true)
	s.stats.SamplesExported.Add(int64(series.Len()))

	s.logger.Debug("exported samples", "path", path, "count", series.Len())
	return nil
}

// ExportLag returns the fraction of ring capacity holding samples not yet
// exported. It is 0 for unbounded histories and with export disabled.
func (s *Service) ExportLag() float64 {
	if !s.exportEnabled() {
		return 0
	}

	var pending, capacity int
	s.history.Snapshot(func(v *buffer.View[float64]) error {
		pending = v.Len() - s.firstUnexported(v)
		return nil
	})
	if c, ok := s.history.(interface{ Cap() int }); ok {
		capacity = c.Cap()
	}
	if capacity <= 0 {
		return 0
	}
	return float64(pending) / float64(capacity)
}

// writeAggregates writes completed aggregates to one Parquet file.
func (s *Service) writeAggregates(completed []aggregate.Completed) error {
	if len(completed) == 0 {
		return nil
	}

	byStream := make(map[string][]types.AggregateResult)
	var streams []string
	for _, c := range completed {
		if _, ok := byStream[c.Stream]; !ok {
			streams = append(streams, c.Stream)
		}
		byStream[c.Stream] = append(byStream[c.Stream], c.Result)
	}

	path := s.exportPath(parquet.KindAggregates)
	w, err := parquet.NewAggregateWriter(path, s.parquetOptions())
	if err != nil {
		return errors.Wrap(err, "create aggregate writer")
	}
	for _, stream := range streams {
		if err := w.Write(stream, byStream[stream]); err != nil {
			w.Abort()
			return errors.Wrap(err, "write aggregates")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close aggregate writer")
	}

	s.stats.AggregatesWritten.Add(int64(len(completed)))
	return nil
}

func (s *Service) exportPath(kind parquet.FileKind) string {
	return filepath.Join(s.config.ExportDir(), parquet.FileName(kind, s.stream, time.Now()))
}

func (s *Service) parquetOptions() parquet.Options {
	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(s.config.Export.Compression.Algorithm)
	opts.CompressionLevel = s.config.Export.Compression.Level
	if s.config.Export.RowGroupSize > 0 {
		opts.RowGroupSize = s.config.Export.RowGroupSize
	}
	return opts
}

func (s *Service) exportEnabled() bool {
	return s.config.Export.Interval > 0
}

func (s *Service) walEnabled() bool {
	return s.config.WAL.Enabled && s.exportEnabled()
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bufferStats := s.history.Stats()
	aggStats := s.aggregate.Stats()

	return ServiceStats{
		Running:           s.running.Load(),
		SamplesReceived:   s.stats.SamplesReceived.Load(),
		SamplesIngested:   s.stats.SamplesIngested.Load(),
		OutOfOrder:        s.stats.OutOfOrder.Load(),
		DimensionErrors:   s.stats.DimensionErrors.Load(),
		BatchesProcessed:  s.stats.BatchesProcessed.Load(),
		FlushesCompleted:  s.stats.FlushesCompleted.Load(),
		SamplesExported:   s.stats.SamplesExported.Load(),
		AggregatesWritten: s.stats.AggregatesWritten.Load(),
		WALRecords:        s.stats.WALRecords.Load(),
		WALSegmentsPruned: s.stats.WALSegmentsPruned.Load(),
		Recovered:         s.stats.Recovered.Load(),
		Errors:            s.stats.Errors.Load(),
		ExportLag:         s.ExportLag(),
		BufferUsage:       bufferStats.UsageRatio,
		BufferCount:       bufferStats.Count,
		ActiveAggregates:  aggStats.ActiveAggregates,
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running           bool
	SamplesReceived   int64
	SamplesIngested   int64
	OutOfOrder        int64
	DimensionErrors   int64
	BatchesProcessed  int64
	FlushesCompleted  int64
	SamplesExported   int64
	AggregatesWritten int64
	WALRecords        int64
	WALSegmentsPruned int64
	Recovered         int64
	Errors            int64
	ExportLag         float64
	BufferUsage       float64
	BufferCount       int
	ActiveAggregates  int64
}

// History returns the live history.
func (s *Service) History() buffer.History[float64] {
	return s.history
}

// AggregateManager returns the aggregate manager.
func (s *Service) AggregateManager() *aggregate.Manager {
	return s.aggregate
}

// Stream returns the stream name of the live history.
func (s *Service) Stream() string {
	return s.stream
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
