package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// ErrMissingTable is returned when a sink's table is absent from the bundle.
var ErrMissingTable = errors.New("table not collected")

// ExportError reports a failed write to one destination.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("writing to %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Export renders t with f and writes it to path. The file is replaced
// atomically, so a failed export never leaves a truncated file behind.
// Failures are returned as *ExportError.
func Export(t *table.Table, path string, f Formatter) error {
	var buf bytes.Buffer
	if err := f.Format(&buf, t); err != nil {
		return &ExportError{Path: path, Err: fmt.Errorf("formatting: %w", err)}
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	logger.Debug("exported table", "table", t.Name(), "path", path, "rows", t.Len(), "bytes", buf.Len())
	return nil
}

// ExportCSV writes t to path as comma-separated values with a header row.
func ExportCSV(t *table.Table, path string) error {
	return Export(t, path, &CSVFormatter{})
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// FileSink writes one table of a bundle to a file.
type FileSink struct {
	// Kind selects the table (table.KindConfig or table.KindResults).
	Kind string

	// Path is the destination file.
	Path string

	// Formatter renders the table; nil means CSV.
	Formatter Formatter
}

// NewFileSink creates a sink writing the kind table to path using the
// named formatter.
func NewFileSink(kind, path, format string) (*FileSink, error) {
	if format == "" {
		format = "csv"
	}
	f, err := Get(format)
	if err != nil {
		return nil, err
	}
	return &FileSink{Kind: kind, Path: path, Formatter: f}, nil
}

// Target returns the destination path.
func (s *FileSink) Target() string {
	return s.Path
}

// Write exports the sink's table.
func (s *FileSink) Write(ctx context.Context, bundle *table.Bundle) error {
	if err := ctx.Err(); err != nil {
		return &ExportError{Path: s.Path, Err: err}
	}

	t := bundle.Get(s.Kind)
	if t == nil {
		return &ExportError{Path: s.Path, Err: fmt.Errorf("%w: %s", ErrMissingTable, s.Kind)}
	}

	f := s.Formatter
	if f == nil {
		f = &CSVFormatter{}
	}
	return Export(t, s.Path, f)
}
