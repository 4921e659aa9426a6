package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

// jsonOutput represents the full JSON output structure.
type jsonOutput struct {
	Table   string          `json:"table"`
	Columns []string        `json:"columns"`
	Rows    []*types.Record `json:"rows"`
}

// rowRecord converts a row to an ordered column -> value object.
func rowRecord(columns []string, row table.Row) *types.Record {
	rec := types.NewRecord()
	for i, col := range columns {
		rec.Set(col, table.JSONSafe(row.Cell(i)))
	}
	return rec
}

// JSONFormatter formats a table as a single indented JSON document with
// the column list and one object per row, keys in column order.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	columns := t.Columns()
	out := jsonOutput{
		Table:   t.Name(),
		Columns: columns,
		Rows:    make([]*types.Record, 0, t.Len()),
	}
	for _, row := range t.Rows() {
		out.Rows = append(out.Rows, rowRecord(columns, row))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter formats a table as newline-delimited JSON, one compact
// object per row. This format is suitable for streaming with tools like jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	columns := t.Columns()
	for _, row := range t.Rows() {
		data, err := json.Marshal(rowRecord(columns, row))
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

// Ensure JSONLFormatter implements Formatter.
var _ Formatter = (*JSONLFormatter)(nil)
