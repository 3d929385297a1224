package fsutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// DatasetExt is the file extension of dataset parts.
	DatasetExt = ".jsonl"
	// OriginField names the field a transform may use to record which input
	// dataset a row came from.
	OriginField = "_origin"
)

// Record is one row of a dataset. Numbers decode as json.Number so values
// pass through a transform without losing precision.
type Record = map[string]any

// DatasetWriter stages a dataset next to its final location and swaps it in
// on Commit. A dataset location is a directory of JSON-lines parts; writing
// the same location again replaces it entirely, so a retried attempt never
// leaves rows from an earlier one behind.
type DatasetWriter struct {
	dir     string
	staging string
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	rows    int64
	done    bool
}

// CreateDataset starts writing the dataset at dir.
func CreateDataset(dir string) (*DatasetWriter, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset parent %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory for %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(staging, "part-00000"+DatasetExt))
	if err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to create dataset part: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &DatasetWriter{dir: dir, staging: staging, file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends one record.
func (w *DatasetWriter) Write(rec Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record %d: %w", w.rows+1, err)
	}
	w.rows++
	return nil
}

// Rows returns the number of records written so far.
func (w *DatasetWriter) Rows() int64 { return w.rows }

// Commit flushes the staged dataset and replaces whatever was at the
// destination. It returns the number of rows written.
func (w *DatasetWriter) Commit() (int64, error) {
	if w.done {
		return 0, errors.New("dataset writer already closed")
	}
	w.done = true
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		os.RemoveAll(w.staging)
		return 0, fmt.Errorf("failed to flush dataset: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.RemoveAll(w.staging)
		return 0, fmt.Errorf("failed to close dataset part: %w", err)
	}
	if err := os.RemoveAll(w.dir); err != nil {
		os.RemoveAll(w.staging)
		return 0, fmt.Errorf("failed to clear previous dataset at %s: %w", w.dir, err)
	}
	if err := os.Rename(w.staging, w.dir); err != nil {
		os.RemoveAll(w.staging)
		return 0, fmt.Errorf("failed to publish dataset at %s: %w", w.dir, err)
	}
	return w.rows, nil
}

// Abort discards the staged dataset. It is a no-op after Commit, so it can
// be deferred unconditionally.
func (w *DatasetWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	os.RemoveAll(w.staging)
}

// ReadDataset calls fn for every record of the dataset at dir, part by part.
// It stops at the first error from fn or when ctx is done.
func ReadDataset(ctx context.Context, dir string, fn func(Record) error) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dataset %s is not a directory", dir)
	}
	parts, err := FindFilesByExtension(dir, DatasetExt)
	if err != nil {
		return fmt.Errorf("failed to list parts of %s: %w", dir, err)
	}
	for _, part := range parts {
		if err := readPart(ctx, part, fn); err != nil {
			return err
		}
	}
	return nil
}

func readPart(ctx context.Context, path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: record %d: %w", path, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
