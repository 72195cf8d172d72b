package parquet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/testutil"
)

func TestSampleWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.parquet")

	w, err := NewSampleWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}

	samples := testutil.RampSeconds(10, 3)
	if err := w.WriteSamples("imu", samples); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := w.WriteSamples("gps", testutil.RampSeconds(2, 3)); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}

	// Not visible under the final name until closed.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("final file exists before Close: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.RowCount() != 12 {
		t.Errorf("RowCount = %d, want 12", w.RowCount())
	}

	r, err := NewSampleReader(path)
	if err != nil {
		t.Fatalf("NewSampleReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 12 {
		t.Errorf("NumRows = %d, want 12", r.NumRows())
	}

	got, err := r.ReadStream("imu")
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range got {
		if got[i].Stamp != samples[i].Stamp {
			t.Errorf("[%d] stamp = %d, want %d", i, got[i].Stamp, samples[i].Stamp)
		}
		if got[i].Dim() != 3 || got[i].Value[2] != samples[i].Value[2] {
			t.Errorf("[%d] value = %v, want %v", i, got[i].Value, samples[i].Value)
		}
	}
}

func TestSampleWriterSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "series.parquet")

	w, err := NewSampleWriter(path, Options{Compression: CompressionSnappy})
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}

	series := types.SeriesFromSamples(testutil.RampSeconds(5, 2))
	if err := w.WriteSeries("s", series); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewSampleReader(path)
	if err != nil {
		t.Fatalf("NewSampleReader: %v", err)
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	if rows[4].StampNs != 4*int64(time.Second) || rows[4].Values[1] != 4 {
		t.Errorf("last row = %+v", rows[4])
	}
}

func TestWriterClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.parquet")

	w, err := NewSampleWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	err = w.WriteSamples("s", testutil.RampSeconds(1, 1))
	if !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}
}

func TestWriterAbort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aborted.parquet")

	w, err := NewSampleWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}
	if err := w.WriteSamples("s", testutil.RampSeconds(3, 1)); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("directory not empty after Abort: %d entries", len(entries))
	}
}

func TestAggregateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.parquet")

	withPct := types.AggregateResult{
		WindowStart: 0,
		WindowEnd:   int64(time.Minute),
		Count:       3,
		Components: []types.ComponentStats{
			{Sum: 6, Min: 1, Max: 3, Avg: 2},
			{Sum: 60, Min: 10, Max: 30, Avg: 20},
		},
		Interval: types.ComponentStats{Sum: 2, Min: 1, Max: 1, Avg: 1},
		FirstTs:  int64(time.Second),
		LastTs:   3 * int64(time.Second),
	}
	withPct.Components[0].SetPercentiles(2, 3, 3, 3)

	next := withPct
	next.WindowStart = int64(time.Minute)
	next.WindowEnd = 2 * int64(time.Minute)
	next.Components = []types.ComponentStats{{Sum: 1, Min: 1, Max: 1, Avg: 1}, {}}

	w, err := NewAggregateWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewAggregateWriter: %v", err)
	}
	if err := w.Write("imu", []types.AggregateResult{next, withPct}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// two components plus the interval row, per window
	if w.RowCount() != 6 {
		t.Errorf("RowCount = %d, want 6", w.RowCount())
	}

	r, err := NewAggregateReader(path)
	if err != nil {
		t.Fatalf("NewAggregateReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(got))
	}

	first := got[0].Result
	if got[0].Stream != "imu" || first.WindowStart != 0 {
		t.Errorf("first = %s@%d, want imu@0", got[0].Stream, first.WindowStart)
	}
	if len(first.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(first.Components))
	}
	if first.Components[1].Avg != 20 {
		t.Errorf("component 1 avg = %v, want 20", first.Components[1].Avg)
	}
	if !first.Components[0].HasPercentiles() || *first.Components[0].P90 != 3 {
		t.Errorf("component 0 percentiles lost: %+v", first.Components[0])
	}
	if first.Components[1].HasPercentiles() {
		t.Error("component 1 gained percentiles")
	}
	if first.Interval.Avg != 1 || first.Count != 3 {
		t.Errorf("interval = %+v count = %d", first.Interval, first.Count)
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	name := FileName(KindSamples, "imu/left arm", at)
	if name != "samples_imu-left-arm_20240506T070809.123456789Z.parquet" {
		t.Errorf("FileName = %q", name)
	}

	kind, stream, ts, ok := ParseFileName(filepath.Join("/data", name))
	if !ok {
		t.Fatal("ParseFileName failed")
	}
	if kind != KindSamples || stream != "imu-left-arm" || !ts.Equal(at) {
		t.Errorf("parsed = %s %s %v", kind, stream, ts)
	}

	// Underscores inside the stream survive because the time is split off last.
	_, stream, _, ok = ParseFileName(FileName(KindAggregates, "a_b", at))
	if !ok || stream != "a-b" {
		t.Errorf("stream = %q ok=%v", stream, ok)
	}

	for _, bad := range []string{
		"other_x_20240506T070809.123456789Z.parquet",
		"samples_x_notatime.parquet",
		"samples_x_20240506T070809.123456789Z.parquet.tmp",
		"samples.parquet",
	} {
		if _, _, _, ok := ParseFileName(bad); ok {
			t.Errorf("ParseFileName(%q) accepted", bad)
		}
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []FileKind{KindAggregates, KindSamples, KindSamples} {
		name := FileName(kind, "s", base.Add(time.Duration(2-i)*time.Hour))
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %d, want 3", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i].Time.Before(files[i-1].Time) {
			t.Error("files not sorted oldest first")
		}
	}
	if files[2].Kind != KindAggregates {
		t.Errorf("newest kind = %s, want aggregates", files[2].Kind)
	}

	missing, err := ListFiles(filepath.Join(dir, "missing"))
	if err != nil || missing != nil {
		t.Errorf("missing dir = %v, %v", missing, err)
	}
}

func TestGetFileInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.parquet")
	w, err := NewSampleWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSamples("s", testutil.RampSeconds(4, 2)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.NumRows != 4 || info.NumCols != 3 || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"snappy": CompressionSnappy,
		"zstd":   CompressionZstd,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"bogus":  CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
		if in != "bogus" && want.String() != in {
			t.Errorf("%v.String() = %q", want, want.String())
		}
	}
}
