package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// Sink writes collected tables to a SQLite database file.
type Sink struct {
	// Path is the database file.
	Path string
}

// NewSink returns a sink writing to the database at path.
func NewSink(path string) *Sink {
	return &Sink{Path: path}
}

// Target returns the database path.
func (s *Sink) Target() string {
	return s.Path
}

// Write opens the database, stores both tables, and closes it.
func (s *Sink) Write(ctx context.Context, bundle *table.Bundle) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("writing to %s: %w", s.Path, err)
		}
	}

	db, err := Open(s.Path)
	if err != nil {
		return fmt.Errorf("writing to %s: %w", s.Path, err)
	}
	defer db.Close()

	if err := db.SaveBundle(ctx, bundle); err != nil {
		return fmt.Errorf("writing to %s: %w", s.Path, err)
	}
	return nil
}
