package output

import (
	"bytes"
	"strings"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// CSVFormatter formats a table as RFC 4180 comma-separated values with a
// header row. Null cells are empty fields and sequences are JSON arrays.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	return table.WriteCSV(w, t)
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

// Ensure CSVFormatter implements Formatter.
var _ Formatter = (*CSVFormatter)(nil)

// TSVFormatter formats a table as tab-separated values. Tabs and newlines
// inside cells are escaped as \t and \n.
type TSVFormatter struct{}

var tsvEscaper = strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n", "\r", "\\r")

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	writeTSVLine(w, t.Columns())
	for _, row := range t.Rows() {
		writeTSVLine(w, row.Strings())
	}
	return nil
}

func writeTSVLine(w *bytes.Buffer, fields []string) {
	for i, field := range fields {
		if i > 0 {
			w.WriteByte('\t')
		}
		w.WriteString(tsvEscaper.Replace(field))
	}
	w.WriteByte('\n')
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

// Ensure TSVFormatter implements Formatter.
var _ Formatter = (*TSVFormatter)(nil)
