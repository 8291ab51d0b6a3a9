package views

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stable-action/models"
)

// CSVWriter is a concurrency-safe, buffered CSV writer for per-frame and
// per-sample logs. The hot path only encodes into memory; the owner decides
// when to Flush.
type CSVWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	rows uint64
}

// NewCSVWriter creates path (and its directory) and writes the header row.
func NewCSVWriter(path string, bufSizeBytes int, writeHeader bool, header []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}
	if bufSizeBytes <= 0 {
		bufSizeBytes = 64 * 1024
	}

	bw := bufio.NewWriterSize(f, bufSizeBytes)
	w := &CSVWriter{path: path, file: f, buf: bw, csv: csv.NewWriter(bw)}

	if writeHeader && len(header) > 0 {
		if err := w.csv.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv write header: %w", err)
		}
	}
	return w, nil
}

// WriteRow appends a single CSV row. Thread-safe.
func (w *CSVWriter) WriteRow(row []string) {
	w.mu.Lock()
	_ = w.csv.Write(row) // error is sticky, reported by Flush
	w.rows++
	w.mu.Unlock()
}

// Write appends any model that knows its own row.
func (w *CSVWriter) Write(r models.CSVRowWriter) { w.WriteRow(r.CSVRow()) }

// Flush pushes buffered rows to the OS.
func (w *CSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes remaining rows and closes the file.
func (w *CSVWriter) Close() error {
	ferr := w.Flush()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return err
	}
	return ferr
}

// Rows returns the number of data rows written (excludes header).
func (w *CSVWriter) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

func (w *CSVWriter) Path() string { return w.path }
