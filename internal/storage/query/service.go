// Package query answers range and summary queries across exported Parquet
// files and the live history.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/buffer"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/parquet"
	"github.com/xtxerr/timering/internal/storage/types"
)

// Service provides query capabilities over stored data.
// It uses DuckDB to query exported Parquet files and merges the results
// with hot samples still held by the live history.
type Service struct {
	config  *config.Config
	db      *sql.DB
	stream  string
	history buffer.History[float64]

	group singleflight.Group

	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
	shared  atomic.Int64
}

// Bounds describes the stamps available for a stream.
type Bounds struct {
	Oldest int64
	Newest int64
	Count  int64
}

// New creates a new query service. history may be nil, in which case only
// exported data is visible. stream names the live history.
func New(cfg *config.Config, stream string, history buffer.History[float64]) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabase, "open duckdb: %v", err)
	}

	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(cfg.Query.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, errors.Wrapf(errors.ErrDatabase, "set memory limit: %v", err)
		}
	}

	return &Service{
		config:  cfg,
		db:      db,
		stream:  stream,
		history: history,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Range returns every sample of stream with a stamp in [start, end], oldest
// first. Exported samples are merged with the live history; on equal
// stamps the live sample wins.
func (s *Service) Range(ctx context.Context, stream string, start, end int64) (types.Series[float64], error) {
	if start > end {
		return types.Series[float64]{}, nil
	}

	key := fmt.Sprintf("range|%s|%d|%d", stream, start, end)
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.coldRange(ctx, stream, start, end)
	})
	if err != nil {
		s.errors.Add(1)
		return types.Series[float64]{}, err
	}

	cold := v.(types.Series[float64])
	if shared {
		// Every caller of a shared flight gets the same series.
		s.shared.Add(1)
		cold = cold.Clone()
	}
	result := mergeSeries(cold, s.hotRange(stream, start, end))
	if limit := s.config.Query.MaxRows; limit > 0 && result.Len() > limit {
		result.Stamps = result.Stamps[:limit]
		result.Values = result.Values[:limit]
	}

	s.queries.Add(1)
	s.rows.Add(int64(result.Len()))
	return result, nil
}

func (s *Service) coldRange(ctx context.Context, stream string, start, end int64) (types.Series[float64], error) {
	source, ok := s.source(parquet.KindSamples)
	if !ok {
		return types.Series[float64]{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT stamp_ns, "values"
		FROM %s
		WHERE stream = ?
		  AND stamp_ns >= ?
		  AND stamp_ns <= ?
		ORDER BY stamp_ns
		%s`, source, s.limit())

	rows, err := s.db.QueryContext(ctx, query, stream, start, end)
	if err != nil {
		return types.Series[float64]{}, errors.Wrapf(errors.ErrDatabase, "query samples: %v", err)
	}
	defer rows.Close()

	var out types.Series[float64]
	for rows.Next() {
		var stamp int64
		var raw any
		if err := rows.Scan(&stamp, &raw); err != nil {
			return types.Series[float64]{}, fmt.Errorf("scan row: %w", err)
		}
		values, err := toFloats(raw)
		if err != nil {
			return types.Series[float64]{}, err
		}
		out.Append(stamp, values)
	}
	return out, rows.Err()
}

func (s *Service) hotRange(stream string, start, end int64) types.Series[float64] {
	if s.history == nil || stream != s.stream {
		return types.Series[float64]{}
	}

	var out types.Series[float64]
	s.history.Snapshot(func(v *buffer.View[float64]) error {
		from := v.LowerBound(start)
		to, ok := v.EqualOrBefore(end)
		if !ok {
			return nil
		}
		out = v.Range(from, to+1)
		return nil
	})
	return out
}

// Count returns the number of exported samples of stream.
func (s *Service) Count(ctx context.Context, stream string) (int64, error) {
	b, err := s.coldBounds(ctx, stream)
	if err != nil {
		return 0, err
	}
	return b.Count, nil
}

// Bounds returns the oldest and newest stamp of stream across exported
// files and the live history. ok is false when no sample exists. Count
// includes live samples that are not yet exported.
func (s *Service) Bounds(ctx context.Context, stream string) (Bounds, bool, error) {
	b, err := s.coldBounds(ctx, stream)
	if err != nil {
		return Bounds{}, false, err
	}

	if s.history != nil && stream == s.stream {
		s.history.Snapshot(func(v *buffer.View[float64]) error {
			newest, oldest, ok := v.OldestAndNewestStamp()
			if !ok {
				return nil
			}
			if b.Count == 0 {
				b = Bounds{Oldest: oldest, Newest: newest, Count: int64(v.Len())}
				return nil
			}
			// Only samples after the newest export are new.
			b.Count += int64(v.Len() - v.LowerBound(b.Newest+1))
			b.Oldest = min(b.Oldest, oldest)
			b.Newest = max(b.Newest, newest)
			return nil
		})
	}

	s.queries.Add(1)
	return b, b.Count > 0, nil
}

func (s *Service) coldBounds(ctx context.Context, stream string) (Bounds, error) {
	source, ok := s.source(parquet.KindSamples)
	if !ok {
		return Bounds{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := "bounds|" + stream
	v, err, _ := s.group.Do(key, func() (any, error) {
		var oldest, newest sql.NullInt64
		var count int64
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT min(stamp_ns), max(stamp_ns), count(*)
			FROM %s
			WHERE stream = ?`, source), stream).Scan(&oldest, &newest, &count)
		if err != nil {
			return Bounds{}, errors.Wrapf(errors.ErrDatabase, "query bounds: %v", err)
		}
		return Bounds{Oldest: oldest.Int64, Newest: newest.Int64, Count: count}, nil
	})
	if err != nil {
		s.errors.Add(1)
		return Bounds{}, err
	}
	return v.(Bounds), nil
}

// Aggregates returns the exported window aggregates of stream whose windows
// lie inside [start, end], ordered by window start.
func (s *Service) Aggregates(ctx context.Context, stream string, start, end int64) ([]parquet.StreamAggregate, error) {
	source, ok := s.source(parquet.KindAggregates)
	if !ok {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT
			stream, window_start, window_end, component,
			count, sum, min, max, avg,
			p50, p90, p95, p99,
			first_ts, last_ts
		FROM %s
		WHERE stream = ?
		  AND window_start >= ?
		  AND window_end <= ?
		ORDER BY window_start, component`, source)

	rows, err := s.db.QueryContext(ctx, query, stream, start, end)
	if err != nil {
		s.errors.Add(1)
		return nil, errors.Wrapf(errors.ErrDatabase, "query aggregates: %v", err)
	}
	defer rows.Close()

	var out []parquet.AggregateRow
	for rows.Next() {
		var r parquet.AggregateRow
		var p50, p90, p95, p99 sql.NullFloat64

		err := rows.Scan(
			&r.Stream, &r.WindowStart, &r.WindowEnd, &r.Component,
			&r.Count, &r.Sum, &r.Min, &r.Max, &r.Avg,
			&p50, &p90, &p95, &p99,
			&r.FirstTs, &r.LastTs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if p50.Valid {
			r.P50, r.P90, r.P95, r.P99 = &p50.Float64, &p90.Float64, &p95.Float64, &p99.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(out)))
	return parquet.RowsToAggregates(out), nil
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any)
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))

	return results, rows.Err()
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
	SharedResults   int64 // calls answered by an identical in-flight query
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
		SharedResults:   s.shared.Load(),
	}
}

// source returns the read_parquet expression for kind, or ok=false when no
// file of that kind has been exported yet.
func (s *Service) source(kind parquet.FileKind) (string, bool) {
	pattern := parquet.Glob(s.config.ExportDir(), kind)
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return fmt.Sprintf("read_parquet('%s')", quote(pattern)), true
}

func (s *Service) limit() string {
	if s.config.Query.MaxRows > 0 {
		return fmt.Sprintf("LIMIT %d", s.config.Query.MaxRows)
	}
	return ""
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Query.Timeout)
	}
	return context.WithCancel(ctx)
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// toFloats converts a scanned DuckDB LIST column.
func toFloats(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("values[%d]: unexpected %T", i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("values: unexpected %T", raw)
	}
}

// mergeSeries merges two stamp-ordered series. On equal stamps hot wins.
func mergeSeries(cold, hot types.Series[float64]) types.Series[float64] {
	if hot.IsEmpty() {
		return cold
	}
	if cold.IsEmpty() {
		return hot
	}

	out := types.NewSeries[float64](cold.Len() + hot.Len())
	i, j := 0, 0
	for i < cold.Len() || j < hot.Len() {
		switch {
		case j == hot.Len():
			out.Append(cold.Stamps[i], cold.Values[i])
			i++
		case i == cold.Len():
			out.Append(hot.Stamps[j], hot.Values[j])
			j++
		case cold.Stamps[i] < hot.Stamps[j]:
			out.Append(cold.Stamps[i], cold.Values[i])
			i++
		case cold.Stamps[i] > hot.Stamps[j]:
			out.Append(hot.Stamps[j], hot.Values[j])
			j++
		default:
			out.Append(hot.Stamps[j], hot.Values[j])
			i++
			j++
		}
	}
	return out
}
