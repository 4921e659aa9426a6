package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ErrNoHeader is returned when reading a CSV without a header row.
var ErrNoHeader = errors.New("csv has no header row")

// WriteCSV writes t as RFC 4180 CSV: a header row of column names followed
// by one line per row. Null cells are empty fields.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Columns()); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := writer.Write(row.Strings()); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadCSV reads a CSV written by WriteCSV back into a table. Every cell is
// a string, and empty fields become null.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	b, err := NewBuilder(name, header)
	if err != nil {
		return nil, err
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", b.Len()+1, err)
		}

		cells := make([]any, len(record))
		for i, field := range record {
			if field != "" {
				cells[i] = field
			}
		}
		if err := b.Append(cells); err != nil {
			return nil, err
		}
	}

	return b.Build(), nil
}
