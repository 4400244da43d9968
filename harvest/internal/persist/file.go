package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/scrollharvest/harvest/record"
)

// JSONFile keeps an indented JSON array of records at path. Every write
// goes to path.tmp first and is renamed over path, so a reader (or a crash
// mid-write) never observes a truncated file.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

// NewJSONFile creates a JSONFile sink. Parent directories are created on
// first write.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// WriteAll overwrites the file with records.
func (f *JSONFile) WriteAll(_ context.Context, records []record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(records)
}

// WriteDelta appends records to the array already on disk. The existing
// file is read back and rewritten atomically, so earlier cycles survive a
// failed write.
func (f *JSONFile) WriteDelta(_ context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := ReadJSONFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return f.write(append(existing, records...))
}

func (f *JSONFile) Close() error { return nil }

func (f *JSONFile) write(records []record.Record) error {
	var buf bytes.Buffer
	if err := record.WriteJSON(&buf, records); err != nil {
		return fmt.Errorf("persist: %s: %w", f.path, err)
	}
	return writeAtomic(f.path, buf.Bytes())
}

// ReadJSONFile loads a JSON array written by JSONFile.
func ReadJSONFile(path string) ([]record.Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer fh.Close()
	recs, err := record.ReadJSON(fh)
	if err != nil {
		return nil, fmt.Errorf("persist: %s: %w", path, err)
	}
	return recs, nil
}

// JSONLines keeps one record per line at path. WriteDelta appends, which
// makes it the safe choice for delta-only persistence: a failed append
// loses at most that cycle.
type JSONLines struct {
	mu   sync.Mutex
	path string
}

// NewJSONLines creates a JSONLines sink.
func NewJSONLines(path string) *JSONLines {
	return &JSONLines{path: path}
}

// WriteAll rewrites the file atomically with records.
func (l *JSONLines) WriteAll(_ context.Context, records []record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var buf bytes.Buffer
	if err := record.WriteLines(&buf, records); err != nil {
		return fmt.Errorf("persist: %s: %w", l.path, err)
	}
	return writeAtomic(l.path, buf.Bytes())
}

// WriteDelta appends records and syncs the file.
func (l *JSONLines) WriteDelta(_ context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", filepath.Dir(l.path), err)
	}
	fh, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", l.path, err)
	}
	if err := record.WriteLines(fh, records); err != nil {
		fh.Close()
		return fmt.Errorf("persist: %s: %w", l.path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("persist: sync %s: %w", l.path, err)
	}
	return fh.Close()
}

func (l *JSONLines) Close() error { return nil }

// ReadJSONLines loads a file written by JSONLines.
func ReadJSONLines(path string) ([]record.Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer fh.Close()
	return record.ReadLines(fh)
}

func writeAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", filepath.Dir(target), err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist: rename: %w", err)
	}
	return nil
}
