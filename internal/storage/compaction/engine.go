// Package compaction merges the small files written by periodic exports.
//
// Every flush writes one samples file and one aggregates file per stream.
// Once the compaction window containing a set of files has closed, the
// files of each (kind, stream) are merged into one file named after the
// window start. Sample rows with equal stamps are collapsed to the most
// recently written one.
package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/parquet"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Engine manages compaction of export files.
type Engine struct {
	mu sync.RWMutex

	config *config.Config
	window time.Duration
	now    func() time.Time
	paused func() bool

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Job queue
	jobCh   chan Job
	workers int

	// pending holds outputs of queued or running jobs so a window is never
	// merged twice at once.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	JobsScheduled  atomic.Int64
	JobsCompleted  atomic.Int64
	JobsFailed     atomic.Int64
	FilesRead      atomic.Int64
	FilesWritten   atomic.Int64
	FilesRemoved   atomic.Int64
	RowsProcessed  atomic.Int64
	RowsDeduped    atomic.Int64
	BytesRead      atomic.Int64
	BytesWritten   atomic.Int64
	SkippedByPause atomic.Int64
}

// Job merges the files of one (kind, stream, window).
type Job struct {
	Kind   parquet.FileKind
	Stream string

	// Window covered by the source files
	WindowStart time.Time
	WindowEnd   time.Time

	// Source files to merge, oldest first
	SourceFiles []parquet.ExportFile

	// Output file path
	OutputFile string
}

// New creates a new compaction engine.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	window := cfg.Compaction.Window
	if window <= 0 {
		window = defaults.DefaultCompactionWindow
	}

	workers := cfg.Compaction.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Engine{
		config:  cfg,
		window:  window,
		now:     time.Now,
		workers: workers,
		pending: make(map[string]struct{}),
	}, nil
}

// SetPauseFunc installs a check consulted before each scheduled scan. While
// it returns true no new jobs are planned.
func (e *Engine) SetPauseFunc(fn func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = fn
}

// Start starts the workers and, when Compaction.Interval is set, the
// scheduler.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return errors.ErrAlreadyRunning
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.jobCh = make(chan Job, 100)
	e.running.Store(true)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	if e.config.Compaction.Interval > 0 {
		e.wg.Add(1)
		go e.scheduler()
	}

	return nil
}

// Stop stops the engine. Queued jobs are still run.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running.Load() {
		e.mu.Unlock()
		return nil
	}
	e.running.Store(false)
	e.cancel()
	close(e.jobCh)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// worker processes compaction jobs.
func (e *Engine) worker(id int) {
	defer e.wg.Done()

	logger := logging.Component("compaction").With("worker", id)

	for job := range e.jobCh {
		if err := e.runJob(job); err != nil {
			e.stats.JobsFailed.Add(1)
			logger.Error("compaction failed", "output", job.OutputFile, "error", err)
		} else {
			e.stats.JobsCompleted.Add(1)
		}
		e.release(job)
	}
}

// scheduler periodically plans and submits jobs.
func (e *Engine) scheduler() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Compaction.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.scheduleJobs()
		}
	}
}

func (e *Engine) scheduleJobs() {
	e.mu.RLock()
	paused := e.paused
	e.mu.RUnlock()

	if paused != nil && paused() {
		e.stats.SkippedByPause.Add(1)
		return
	}

	jobs, err := e.Plan()
	if err != nil {
		logging.Component("compaction").Warn("plan failed", "error", err)
		return
	}
	for _, job := range jobs {
		e.SubmitJob(job)
	}
}

// Plan lists the export directory and returns one job per closed window
// holding more than one file of the same kind and stream.
func (e *Engine) Plan() ([]Job, error) {
	files, err := parquet.ListFiles(e.config.ExportDir())
	if err != nil {
		return nil, errors.Wrap(err, "list export files")
	}

	type groupKey struct {
		kind   parquet.FileKind
		stream string
		start  int64
	}

	window := e.window
	now := e.now()

	groups := make(map[groupKey][]parquet.ExportFile)
	var keys []groupKey
	for _, f := range files {
		start := f.Time.Truncate(window)
		if start.Add(window).After(now) {
			continue // window still open
		}
		k := groupKey{kind: f.Kind, stream: f.Stream, start: start.UnixNano()}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], f)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].start != keys[j].start {
			return keys[i].start < keys[j].start
		}
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].stream < keys[j].stream
	})

	var jobs []Job
	for _, k := range keys {
		sources := groups[k]
		if len(sources) < 2 {
			continue
		}
		start := time.Unix(0, k.start).UTC()
		jobs = append(jobs, Job{
			Kind:        k.kind,
			Stream:      k.stream,
			WindowStart: start,
			WindowEnd:   start.Add(window),
			SourceFiles: sources,
			OutputFile:  outputPath(e.config.ExportDir(), k.kind, k.stream, start),
		})
	}
	return jobs, nil
}

// SubmitJob queues a job. It returns false when the engine is stopped, the
// queue is full, or a job with the same output is already pending.
func (e *Engine) SubmitJob(job Job) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running.Load() {
		return false
	}
	if !e.claim(job) {
		return false
	}

	select {
	case e.jobCh <- job:
		e.stats.JobsScheduled.Add(1)
		return true
	default:
		e.release(job)
		return false
	}
}

func (e *Engine) claim(job Job) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if _, ok := e.pending[job.OutputFile]; ok {
		return false
	}
	e.pending[job.OutputFile] = struct{}{}
	return true
}

func (e *Engine) release(job Job) {
	e.pendingMu.Lock()
	delete(e.pending, job.OutputFile)
	e.pendingMu.Unlock()
}

// RunOnce plans and runs every job synchronously. It returns the number of
// jobs completed.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	jobs, err := e.Plan()
	if err != nil {
		return 0, err
	}

	var errs []error
	done := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !e.claim(job) {
			continue
		}
		err := e.runJob(job)
		e.release(job)
		if err != nil {
			e.stats.JobsFailed.Add(1)
			errs = append(errs, err)
			continue
		}
		e.stats.JobsCompleted.Add(1)
		done++
	}
	return done, errors.Join(errs...)
}

// RunJob executes a compaction job synchronously.
func (e *Engine) RunJob(job Job) error {
	return e.runJob(job)
}

// runJob writes the merged output, then removes the sources. The output
// replaces a source of the same name atomically, so a failure before the
// removal leaves duplicates but never loses rows.
func (e *Engine) runJob(job Job) error {
	if len(job.SourceFiles) == 0 {
		return nil
	}

	var err error
	switch job.Kind {
	case parquet.KindSamples:
		err = e.mergeSamples(job)
	case parquet.KindAggregates:
		err = e.mergeAggregates(job)
	default:
		err = errors.Wrapf(errors.ErrInvalidCommand, "unknown file kind %q", job.Kind)
	}
	if err != nil {
		return err
	}
	e.stats.FilesWritten.Add(1)

	if info, err := os.Stat(job.OutputFile); err == nil {
		e.stats.BytesWritten.Add(info.Size())
	}

	for _, f := range job.SourceFiles {
		if f.Path == job.OutputFile {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", f.Path)
		}
		e.stats.FilesRemoved.Add(1)
	}
	return nil
}

func (e *Engine) mergeSamples(job Job) error {
	var rows []parquet.SampleRow
	for _, f := range job.SourceFiles {
		r, err := parquet.NewSampleReader(f.Path)
		if err != nil {
			return errors.Wrapf(err, "open %s", f.Path)
		}
		part, err := r.ReadAll()
		r.Close()
		if err != nil {
			return errors.Wrapf(err, "read %s", f.Path)
		}
		rows = append(rows, part...)
		e.stats.FilesRead.Add(1)
		e.stats.BytesRead.Add(f.Size)
	}
	e.stats.RowsProcessed.Add(int64(len(rows)))

	merged := dedupeSamples(rows)
	e.stats.RowsDeduped.Add(int64(len(rows) - len(merged)))

	w, err := parquet.NewSampleWriter(job.OutputFile, e.parquetOptions())
	if err != nil {
		return errors.Wrap(err, "create sample writer")
	}
	if err := w.WriteRows(merged); err != nil {
		w.Abort()
		return errors.Wrap(err, "write samples")
	}
	return w.Close()
}

// dedupeSamples orders rows by stream and stamp and keeps the last row
// read for each stamp. Rows come in file order, so later exports win.
func dedupeSamples(rows []parquet.SampleRow) []parquet.SampleRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Stream != rows[j].Stream {
			return rows[i].Stream < rows[j].Stream
		}
		return rows[i].StampNs < rows[j].StampNs
	})

	out := rows[:0]
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1].Stream == r.Stream && out[n-1].StampNs == r.StampNs {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) mergeAggregates(job Job) error {
	var all []parquet.StreamAggregate
	for _, f := range job.SourceFiles {
		r, err := parquet.NewAggregateReader(f.Path)
		if err != nil {
			return errors.Wrapf(err, "open %s", f.Path)
		}
		part, err := r.ReadAll()
		r.Close()
		if err != nil {
			return errors.Wrapf(err, "read %s", f.Path)
		}
		all = append(all, part...)
		e.stats.FilesRead.Add(1)
		e.stats.BytesRead.Add(f.Size)
	}
	e.stats.RowsProcessed.Add(int64(len(all)))

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Stream != all[j].Stream {
			return all[i].Stream < all[j].Stream
		}
		return all[i].Result.WindowStart < all[j].Result.WindowStart
	})

	w, err := parquet.NewAggregateWriter(job.OutputFile, e.parquetOptions())
	if err != nil {
		return errors.Wrap(err, "create aggregate writer")
	}
	for _, a := range all {
		if err := w.Write(a.Stream, []types.AggregateResult{a.Result}); err != nil {
			w.Abort()
			return errors.Wrap(err, "write aggregates")
		}
	}
	return w.Close()
}

func (e *Engine) parquetOptions() parquet.Options {
	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(e.config.Export.Compression.Algorithm)
	opts.CompressionLevel = e.config.Export.Compression.Level
	if e.config.Export.RowGroupSize > 0 {
		opts.RowGroupSize = e.config.Export.RowGroupSize
	}
	return opts
}

// outputPath names the merged file after the window start.
func outputPath(dir string, kind parquet.FileKind, stream string, start time.Time) string {
	return filepath.Join(dir, parquet.FileName(kind, stream, start))
}

// Stats returns current statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Running:        e.running.Load(),
		JobsScheduled:  e.stats.JobsScheduled.Load(),
		JobsCompleted:  e.stats.JobsCompleted.Load(),
		JobsFailed:     e.stats.JobsFailed.Load(),
		FilesRead:      e.stats.FilesRead.Load(),
		FilesWritten:   e.stats.FilesWritten.Load(),
		FilesRemoved:   e.stats.FilesRemoved.Load(),
		RowsProcessed:  e.stats.RowsProcessed.Load(),
		RowsDeduped:    e.stats.RowsDeduped.Load(),
		BytesRead:      e.stats.BytesRead.Load(),
		BytesWritten:   e.stats.BytesWritten.Load(),
		SkippedByPause: e.stats.SkippedByPause.Load(),
	}
}

// EngineStats holds engine statistics.
type EngineStats struct {
	Running        bool
	JobsScheduled  int64
	JobsCompleted  int64
	JobsFailed     int64
	FilesRead      int64
	FilesWritten   int64
	FilesRemoved   int64
	RowsProcessed  int64
	RowsDeduped    int64
	BytesRead      int64
	BytesWritten   int64
	SkippedByPause int64
}

// IsRunning returns whether the engine is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}
