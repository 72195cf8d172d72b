package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileKind distinguishes sample exports from aggregate exports.
type FileKind string

const (
	KindSamples    FileKind = "samples"
	KindAggregates FileKind = "aggregates"
)

const (
	fileExt        = ".parquet"
	fileTimeLayout = "20060102T150405.000000000Z"
)

// FileName returns the export file name for one flush of a stream:
// <kind>_<stream>_<utc time>.parquet. Characters outside [A-Za-z0-9.-] in
// stream are replaced with '-'.
func FileName(kind FileKind, stream string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", kind, sanitizeStream(stream), t.UTC().Format(fileTimeLayout), fileExt)
}

// Glob returns the pattern matching every export of kind in dir.
func Glob(dir string, kind FileKind) string {
	return filepath.Join(dir, string(kind)+"_*"+fileExt)
}

// ParseFileName extracts kind, stream and flush time from an export file
// name. ok is false for foreign files.
func ParseFileName(name string) (kind FileKind, stream string, t time.Time, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileExt) {
		return "", "", time.Time{}, false
	}
	base = strings.TrimSuffix(base, fileExt)

	first := strings.IndexByte(base, '_')
	last := strings.LastIndexByte(base, '_')
	if first < 0 || last <= first {
		return "", "", time.Time{}, false
	}

	kind = FileKind(base[:first])
	if kind != KindSamples && kind != KindAggregates {
		return "", "", time.Time{}, false
	}

	t, err := time.Parse(fileTimeLayout, base[last+1:])
	if err != nil {
		return "", "", time.Time{}, false
	}
	return kind, base[first+1 : last], t, true
}

// ExportFile is a parsed export file on disk.
type ExportFile struct {
	Path   string
	Kind   FileKind
	Stream string
	Time   time.Time
	Size   int64
}

// ListFiles returns the export files in dir, oldest first. A missing
// directory is not an error.
func ListFiles(dir string) ([]ExportFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []ExportFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, stream, t, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, ExportFile{
			Path:   filepath.Join(dir, e.Name()),
			Kind:   kind,
			Stream: stream,
			Time:   t,
			Size:   info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Time.Before(files[j].Time)
	})
	return files, nil
}

func sanitizeStream(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
