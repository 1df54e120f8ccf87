// Package tabfile provides single-file table persistence in JSONL format.
//
// A table file starts with a schema header line (format version and ordered
// column set) followed by one JSON object per row. Writes are atomic: the new
// content goes to a temporary file in the same directory which is then
// renamed over the target, so a reader never observes a half-written file and
// a crash mid-write leaves the previous valid file intact.
package tabfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// writeAttempts bounds the re-serialization-and-retry cycle before a
	// write failure becomes fatal.
	writeAttempts   = 3
	writeRetryDelay = 100 * time.Millisecond

	// minFreeBytes is required headroom beyond the payload itself.
	minFreeBytes = 1 << 20

	tmpPattern = ".table-*.tmp"
)

// File manages one table file on disk. It performs no locking of its own; the
// caller is responsible for serializing access.
type File[T any] struct {
	path    string
	columns []Column
}

// New creates a File for path with a schema derived from T. The parent
// directory is created if needed and temporary files left behind by a
// crashed write are swept.
func New[T any](path string) (*File[T], error) {
	columns, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	sweepTmp(dir)
	return &File[T]{path: path, columns: columns}, nil
}

// Path returns the location of the table file.
func (f *File[T]) Path() string {
	return f.path
}

// Columns returns the expected column set.
func (f *File[T]) Columns() []Column {
	return f.columns
}

// Exists reports whether the table file is present on disk.
func (f *File[T]) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Read parses the table file. A missing file yields an empty row set, not an
// error. A header mismatch or an undecodable row yields a *CorruptionError;
// no partially-loaded rows are returned in that case.
func (f *File[T]) Read() ([]T, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open table file %s: %w", f.path, err)
	}
	defer func() {
		_ = fh.Close()
	}()

	var rows []T
	line := 0
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		line++
		if line == 1 {
			var h Header
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, &CorruptionError{Path: f.path, Line: 1, Err: fmt.Errorf("unreadable header: %w", err)}
			}
			if err := h.Validate(); err != nil {
				return nil, &CorruptionError{Path: f.path, Line: 1, Err: err}
			}
			if !h.Matches(f.columns) {
				return nil, &CorruptionError{Path: f.path, Line: 1, Err: errors.New("header does not match expected columns")}
			}
			continue
		}
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, &CorruptionError{Path: f.path, Line: line, Err: err}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table file %s: %w", f.path, err)
	}
	if line == 0 {
		// Zero-length file, e.g. truncated by a full disk before this layer
		// guarded against it.
		return nil, &CorruptionError{Path: f.path, Err: errors.New("missing header")}
	}
	return rows, nil
}

// Salvage extracts whatever rows still decode from a corrupt file. Lines that
// fail to parse are dropped with a warning. The result is best-effort; the
// caller is expected to rewrite the file with the salvaged rows.
func (f *File[T]) Salvage() []T {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil
	}
	defer func() {
		_ = fh.Close()
	}()

	var rows []T
	dropped := 0
	first := true
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if first {
			first = false
			// The first line is normally the header, but a clobbered file may
			// start anywhere. Only skip it when it actually looks like one.
			var h Header
			if err := json.Unmarshal(raw, &h); err == nil && h.Version != "" {
				continue
			}
		}
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		slog.Warn("Dropped unparsable rows during salvage", "path", f.path, "dropped", dropped, "kept", len(rows))
	}
	return rows
}

// Write serializes the header and rows and atomically replaces the table
// file. The target directory is checked for free space and writability first,
// failing with a *ResourceError, and transient failures are retried a bounded
// number of times before surfacing.
func (f *File[T]) Write(rows []T) error {
	buf, err := f.encode(rows)
	if err != nil {
		return err
	}
	if err := f.preflight(int64(len(buf))); err != nil {
		return err
	}
	var lastErr error
	for attempt := range writeAttempts {
		if attempt > 0 {
			slog.Warn("Retrying table write", "path", f.path, "attempt", attempt+1, "err", lastErr)
			time.Sleep(writeRetryDelay)
		}
		if lastErr = f.writeAtomic(buf); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to write table file %s after %d attempts: %w", f.path, writeAttempts, lastErr)
}

func (f *File[T]) encode(rows []T) ([]byte, error) {
	var buf bytes.Buffer
	header := Header{Version: currentVersion, Columns: f.columns}
	data, err := json.Marshal(&header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// preflight fails fast when the directory cannot plausibly accept the write,
// so a full disk never silently produces a truncated file.
func (f *File[T]) preflight(need int64) error {
	dir := filepath.Dir(f.path)
	if free, err := freeSpace(dir); err == nil && free < need*2+minFreeBytes {
		return &ResourceError{Dir: dir, Err: fmt.Errorf("insufficient free space: %d bytes available, %d needed", free, need*2+minFreeBytes)}
	}
	probe, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return &ResourceError{Dir: dir, Err: err}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

func (f *File[T]) writeAtomic(buf []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return errors.Join(fmt.Errorf("failed to write temp file: %w", err), os.Remove(tmpPath))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename temp file over target: %w", err), os.Remove(tmpPath))
	}
	return nil
}

// sweepTmp removes temp files left behind by crashed writes.
func sweepTmp(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, ".table-") && strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				slog.Warn("Failed to remove stale temp file", "path", filepath.Join(dir, name), "err", err)
			}
		}
	}
}
