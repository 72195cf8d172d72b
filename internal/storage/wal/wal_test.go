package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/testutil"
	"github.com/xtxerr/timering/internal/wire"
)

func testBatch(t testing.TB, offset, n int) *wire.Batch {
	t.Helper()
	samples := testutil.RampSeconds(offset+n, 2)[offset:]
	b, err := wire.NewBatch(2, samples)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	return b
}

func TestEncodeDecode(t *testing.T) {
	b := testBatch(t, 0, 3)

	seq, decoded, err := decodeBatch(encodeBatch(7, b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 7 {
		t.Errorf("expected seq 7, got %d", seq)
	}
	if decoded.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", decoded.Len())
	}
	for i, s := range decoded.Samples() {
		if s.Stamp != int64(i)*int64(time.Second) {
			t.Errorf("sample %d: stamp %d", i, s.Stamp)
		}
		if s.Value[0] != float64(i) || s.Value[1] != float64(i) {
			t.Errorf("sample %d: value %v", i, s.Value)
		}
	}
}

func TestDecode_ErrorFrame(t *testing.T) {
	data := wire.MarshalFrame(wire.NewError(1, 3, "nope"))
	if _, _, err := decodeBatch(data); !errors.Is(err, errors.ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestWriter_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(testBatch(t, 0, 2)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stats := w.Stats()
	if stats.RecordsWritten != 1 {
		t.Errorf("expected 1 record written, got %d", stats.RecordsWritten)
	}
	if stats.SegmentsCreated != 1 {
		t.Errorf("expected 1 segment, got %d", stats.SegmentsCreated)
	}

	if err := w.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
}

func TestWriter_EmptyBatch(t *testing.T) {
	w, err := NewWriter(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(nil); err != nil {
		t.Errorf("Write(nil): %v", err)
	}
	if err := w.WriteSamples(2, nil); err != nil {
		t.Errorf("WriteSamples(nil): %v", err)
	}
	if got := w.Stats().RecordsWritten; got != 0 {
		t.Errorf("expected 0 records, got %d", got)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := w.Write(testBatch(t, 0, 1)); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
	if _, err := w.Rotate(); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed from Rotate, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWriter_Rotation(t *testing.T) {
	tmpDir := t.TempDir()

	opts := DefaultOptions()
	opts.MaxSegmentSize = 1024

	w, err := NewWriter(tmpDir, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := w.Write(testBatch(t, i*10, 10)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	w.Close()

	segments, err := ListSegments(tmpDir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected rotation, got %d segments", len(segments))
	}

	samples, err := ReadAllSegments(segments)
	if err != nil {
		t.Fatalf("ReadAllSegments: %v", err)
	}
	if len(samples) != 200 {
		t.Fatalf("expected 200 samples, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Stamp <= samples[i-1].Stamp {
			t.Fatalf("samples out of order at %d", i)
		}
	}
}

func TestReader_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSamples(2, testutil.RampSeconds(5, 2)); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	path := w.CurrentSegment()
	w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	samples, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	if samples[4].Value[1] != 4 {
		t.Errorf("unexpected last value %v", samples[4].Value)
	}

	stats := r.Stats()
	if stats.RecordsRead != 1 || stats.SamplesRead != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if r.Path() != path {
		t.Errorf("Path() = %s, want %s", r.Path(), path)
	}
}

func TestReader_MultipleRecords(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := w.Write(testBatch(t, i*3, 3)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	path := w.CurrentSegment()
	w.Close()

	samples, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(samples) != 12 {
		t.Errorf("expected 12 samples, got %d", len(samples))
	}
}

func TestReader_TornTail(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(testBatch(t, i*5, 5)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	path := w.CurrentSegment()
	w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	samples, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("expected 10 samples before torn record, got %d", len(samples))
	}
	if r.Stats().TornRecords != 1 {
		t.Errorf("expected 1 torn record, got %d", r.Stats().TornRecords)
	}
}

func TestReader_CorruptRecordSkipped(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testBatch(t, 0, 4))
	w.Write(testBatch(t, 4, 4))
	path := w.CurrentSegment()
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[headerSize+recordHeaderSize+2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	samples, _ := r.ReadAll()
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	if samples[0].Stamp != 4*int64(time.Second) {
		t.Errorf("expected second batch, got stamp %d", samples[0].Stamp)
	}
	if r.Stats().CorruptRecords != 1 {
		t.Errorf("expected 1 corrupt record, got %d", r.Stats().CorruptRecords)
	}
}

func TestReadAllSegments(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testBatch(t, 0, 3))
	if _, err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	w.Write(testBatch(t, 3, 3))
	w.Close()

	segments, _ := ListSegments(tmpDir)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}

	samples, err := ReadAllSegments(segments)
	if err != nil {
		t.Fatalf("ReadAllSegments: %v", err)
	}
	if len(samples) != 6 {
		t.Errorf("expected 6 samples, got %d", len(samples))
	}
}

func TestIterator(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testBatch(t, 0, 2))
	w.Write(testBatch(t, 2, 3))
	path := w.CurrentSegment()
	w.Close()

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	var got []types.Sample[float64]
	for it.Next() {
		got = append(got, it.Sample())
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}
	if got[4].Value[0] != 4 {
		t.Errorf("unexpected last sample %v", got[4].Value)
	}
}

func TestReplay(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testBatch(t, 0, 3))
	w.Rotate()
	w.Write(testBatch(t, 3, 4))
	w.Close()

	var batches, samples int
	stats, err := Replay(tmpDir, func(b *wire.Batch) error {
		batches++
		samples += b.Len()
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if batches != 2 || samples != 7 {
		t.Errorf("expected 2 batches / 7 samples, got %d / %d", batches, samples)
	}
	if stats.RecordsRead != 2 || stats.SamplesRead != 7 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestReplay_StopsOnError(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testBatch(t, 0, 1))
	w.Write(testBatch(t, 1, 1))
	w.Close()

	calls := 0
	_, err = Replay(tmpDir, func(b *wire.Batch) error {
		calls++
		return errors.ErrInternal
	})
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("expected ErrInternal, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestReplay_MissingDir(t *testing.T) {
	stats, err := Replay(filepath.Join(t.TempDir(), "nope"), func(*wire.Batch) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.RecordsRead != 0 {
		t.Errorf("expected nothing read, got %+v", stats)
	}
}

func TestWriter_DeleteSegments(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	w.Write(testBatch(t, 0, 2))
	w.Rotate()
	w.Write(testBatch(t, 2, 2))
	seq, err := w.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	w.Write(testBatch(t, 4, 2))
	w.Sync()

	deleted, err := w.DeleteSegmentsBefore(seq)
	if err != nil {
		t.Fatalf("DeleteSegmentsBefore: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	segments, _ := ListSegments(tmpDir)
	if len(segments) != 1 || segments[0] != w.CurrentSegment() {
		t.Errorf("expected only current segment, got %v", segments)
	}

	if err := w.DeleteSegment(w.CurrentSegment()); err == nil {
		t.Error("expected error deleting current segment")
	}
}

func TestWriter_Recovery(t *testing.T) {
	tmpDir := t.TempDir()

	w1, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w1.Write(testBatch(t, 0, 5))
	first := w1.CurrentSegment()
	w1.Close()

	w2, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter (reopen): %v", err)
	}
	defer w2.Close()

	if w2.CurrentSegment() == first {
		t.Error("reopened writer must start a new segment")
	}
	w2.Write(testBatch(t, 5, 5))
	w2.Sync()

	segments, _ := ListSegments(tmpDir)
	samples, err := ReadAllSegments(segments)
	if err != nil {
		t.Fatalf("ReadAllSegments: %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("expected 10 samples, got %d", len(samples))
	}
}

func TestWriter_SyncModes(t *testing.T) {
	for _, mode := range []string{"async", "sync", "fsync"} {
		t.Run(mode, func(t *testing.T) {
			opts := DefaultOptions()
			opts.SyncMode = mode

			w, err := NewWriter(t.TempDir(), opts)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			defer w.Close()

			if err := w.Write(testBatch(t, 0, 1)); err != nil {
				t.Fatalf("Write: %v", err)
			}

			// sync and fsync flush on every write, so the record is
			// already readable.
			samples, _ := ReadSegment(w.CurrentSegment())
			want := 1
			if mode == "async" {
				want = 0
			}
			if len(samples) != want {
				t.Errorf("expected %d readable samples, got %d", want, len(samples))
			}
		})
	}
}

func TestReader_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "invalid.wal")
	os.WriteFile(path, []byte("not a wal file"), 0644)

	if _, err := NewReader(path); err == nil {
		t.Error("expected error for invalid file")
	}
}

func TestListSegments_IgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), nil, 0644)
	os.WriteFile(filepath.Join(tmpDir, "0000000000000003.wal"), nil, 0644)
	os.WriteFile(filepath.Join(tmpDir, "0000000000000001.wal"), nil, 0644)

	segments, err := ListSegments(tmpDir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %v", segments)
	}
	if filepath.Base(segments[0]) != "0000000000000001.wal" {
		t.Errorf("segments not sorted: %v", segments)
	}
}

func BenchmarkWriter_Write(b *testing.B) {
	w, err := NewWriter(b.TempDir(), DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	batch := testBatch(b, 0, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(batch)
	}
}

func BenchmarkReader_ReadAll(b *testing.B) {
	tmpDir := b.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		w.Write(testBatch(b, i*100, 100))
	}
	path := w.CurrentSegment()
	w.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReadSegment(path)
	}
}
