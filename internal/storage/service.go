package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/timering/internal/constants"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/aggregate"
	"github.com/xtxerr/timering/internal/storage/backpressure"
	"github.com/xtxerr/timering/internal/storage/buffer"
	"github.com/xtxerr/timering/internal/storage/compaction"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/ingestion"
	"github.com/xtxerr/timering/internal/storage/parquet"
	"github.com/xtxerr/timering/internal/storage/query"
	"github.com/xtxerr/timering/internal/storage/retention"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/wire"
)

// Service is the main storage service that orchestrates all components
// around one live history.
type Service struct {
	config *config.Config
	stream string
	logger *slog.Logger

	// Components
	history      buffer.History[float64]
	ingestion    *ingestion.Service
	compaction   *compaction.Engine
	query        *query.Service
	backpressure *backpressure.Controller
	retention    *retention.Manager

	// State
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime atomic.Int64
}

// NewHistory builds the history selected by cfg.Kind.
func NewHistory(cfg config.BufferConfig) (buffer.History[float64], error) {
	switch cfg.Kind {
	case constants.BufferKindGrowable:
		return buffer.NewGrowable[float64](cfg.Dimension, cfg.Window)
	case constants.BufferKindRing, "":
		return buffer.New[float64](cfg.Dimension, cfg.Capacity)
	default:
		return nil, errors.NewValidation("buffer.kind", "must be ring or growable")
	}
}

// New creates a new storage service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	history, err := NewHistory(cfg.Buffer)
	if err != nil {
		return nil, errors.Wrap(err, "create history")
	}

	stream := cfg.Buffer.Stream
	if stream == "" {
		stream = "default"
	}

	ing, err := ingestion.New(cfg, stream, history)
	if err != nil {
		return nil, errors.Wrap(err, "create ingestion")
	}

	comp, err := compaction.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create compaction")
	}

	qry, err := query.New(cfg, stream, history)
	if err != nil {
		return nil, errors.Wrap(err, "create query")
	}

	s := &Service{
		config:       cfg,
		stream:       stream,
		logger:       logging.Component("storage").With("stream", stream),
		history:      history,
		ingestion:    ing,
		compaction:   comp,
		query:        qry,
		backpressure: backpressure.New(cfg, ing),
		retention:    retention.New(cfg),
	}

	s.retention.Register(stream, history)
	s.compaction.SetPauseFunc(s.backpressure.ShouldPauseCompaction)
	s.backpressure.SetOnLevelChange(s.onBackpressureChange)

	return s, nil
}

// Start recovers the WAL into the history and starts all components.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	if err := s.ingestion.Start(); err != nil {
		return errors.Wrap(err, "start ingestion")
	}

	if err := s.compaction.Start(); err != nil {
		s.ingestion.Stop()
		return errors.Wrap(err, "start compaction")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.backpressure.IsEnabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.backpressure.Run(ctx, time.Second)
		}()
	}

	if s.config.Retention.Interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.retention.Run(ctx)
		}()
	}

	s.startTime.Store(time.Now().UnixNano())
	s.running.Store(true)

	s.logger.Info("storage started",
		"kind", s.config.Buffer.Kind,
		"capacity", s.config.Buffer.Capacity,
		"dimension", s.config.Buffer.Dimension,
	)
	return nil
}

// Stop stops all components gracefully. Ingestion stops last among the
// writers so its final flush sees every accepted sample.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	var errs []error

	if err := s.compaction.Stop(); err != nil {
		errs = append(errs, errors.Wrap(err, "stop compaction"))
	}
	if err := s.ingestion.Stop(); err != nil {
		errs = append(errs, errors.Wrap(err, "stop ingestion"))
	}

	s.logger.Info("storage stopped")
	return errors.Join(errs...)
}

// Close stops the service and releases the query engine. The service
// cannot be restarted afterwards.
func (s *Service) Close() error {
	err := s.Stop()
	if cerr := s.query.Close(); cerr != nil {
		err = errors.Join(err, errors.Wrap(cerr, "close query"))
	}
	return err
}

// Ingest inserts samples, sleeping first when exports lag far behind.
func (s *Service) Ingest(samples []types.Sample[float64]) (ingestion.IngestResult, error) {
	if !s.running.Load() {
		return ingestion.IngestResult{}, errors.ErrNotRunning
	}

	if delay := s.backpressure.ThrottleDelay(); delay > 0 {
		time.Sleep(delay)
	}

	return s.ingestion.Ingest(samples)
}

// Insert ingests a single sample and reports a rejection as an error.
func (s *Service) Insert(stamp int64, value []float64) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}

	res, err := s.ingestion.Ingest([]types.Sample[float64]{{Stamp: stamp, Value: value}})
	if err != nil {
		return err
	}
	switch {
	case res.OutOfOrder > 0:
		return errors.ErrOutOfOrder
	case res.DimensionMismatch > 0:
		return errors.ErrDimensionMismatch
	}
	return nil
}

// Replay ingests every batch frame read from r.
func (s *Service) Replay(ctx context.Context, r io.Reader) (ingestion.ReplayResult, error) {
	if !s.running.Load() {
		return ingestion.ReplayResult{}, errors.ErrNotRunning
	}
	return s.ingestion.Replay(ctx, wire.NewReaderSize(r, s.config.Wire.MaxFrameSize))
}

// Range returns exported and live samples with stamps in [start, end].
func (s *Service) Range(ctx context.Context, start, end int64) (types.Series[float64], error) {
	return s.query.Range(ctx, s.stream, start, end)
}

// Bounds returns the oldest and newest stamps across exports and the live
// history.
func (s *Service) Bounds(ctx context.Context) (query.Bounds, bool, error) {
	return s.query.Bounds(ctx, s.stream)
}

// Count returns the number of exported samples.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.query.Count(ctx, s.stream)
}

// Aggregates returns exported window aggregates overlapping [start, end].
func (s *Service) Aggregates(ctx context.Context, start, end int64) ([]parquet.StreamAggregate, error) {
	return s.query.Aggregates(ctx, s.stream, start, end)
}

// QuerySQL executes a raw SQL query.
func (s *Service) QuerySQL(ctx context.Context, sql string) ([]map[string]any, error) {
	return s.query.ExecuteSQL(ctx, sql)
}

// Summary summarizes the live history over [start, end].
func (s *Service) Summary(start, end int64) (types.AggregateResult, bool) {
	return aggregate.Summarize(s.history, start, end, s.config.Aggregate.Accuracy)
}

// CurrentAggregate returns the open aggregate window.
func (s *Service) CurrentAggregate() (types.AggregateResult, bool) {
	return s.ingestion.AggregateManager().Current(s.stream)
}

// onBackpressureChange runs under the controller lock.
func (s *Service) onBackpressureChange(old, new backpressure.Level) {
	if new > old && new >= backpressure.LevelWarning {
		s.ingestion.ForceFlush()
	}
	s.logger.Info("backpressure level changed", "from", old, "to", new)
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if s.running.Load() {
		uptime = time.Since(time.Unix(0, s.startTime.Load()))
	}

	return ServiceStats{
		Running:      s.running.Load(),
		Uptime:       uptime,
		Buffer:       s.history.Stats(),
		Ingestion:    s.ingestion.Stats(),
		Compaction:   s.compaction.Stats(),
		Query:        s.query.Stats(),
		Backpressure: s.backpressure.Stats(),
		Retention:    s.retention.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running      bool
	Uptime       time.Duration
	Buffer       buffer.Stats
	Ingestion    ingestion.ServiceStats
	Compaction   compaction.EngineStats
	Query        query.ServiceStats
	Backpressure backpressure.ControllerStats
	Retention    retention.ManagerStats
}

// History returns the live history for direct queries.
func (s *Service) History() buffer.History[float64] {
	return s.history
}

// Stream returns the stream name of the live history.
func (s *Service) Stream() string {
	return s.stream
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// ForceFlush triggers an asynchronous export.
func (s *Service) ForceFlush() {
	s.ingestion.ForceFlush()
}

// Flush synchronously exports new samples and completed aggregates.
func (s *Service) Flush() error {
	return s.ingestion.Flush()
}

// Compact merges export files of every closed compaction window now.
func (s *Service) Compact(ctx context.Context) (int, error) {
	return s.compaction.RunOnce(ctx)
}

// RunRetention manually triggers retention.
func (s *Service) RunRetention() retention.Result {
	return s.retention.RunOnce()
}

// DryRunRetention reports which export files retention would delete.
func (s *Service) DryRunRetention() retention.Result {
	return s.retention.DryRun()
}

// GetDiskUsage returns disk usage per export kind.
func (s *Service) GetDiskUsage() map[parquet.FileKind]retention.DiskUsage {
	return s.retention.GetDiskUsage()
}

// BackpressureLevel returns the current backpressure level.
func (s *Service) BackpressureLevel() backpressure.Level {
	return s.backpressure.CurrentLevel()
}
