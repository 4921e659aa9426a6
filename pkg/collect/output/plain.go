package output

import (
	"bytes"
	"strings"
	"text/tabwriter"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

var plainEscaper = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// PlainFormatter formats a table as space-aligned columns.
// It produces plain text suitable for scripting and piping.
// No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := make([]string, len(t.Columns()))
	for i, c := range t.Columns() {
		header[i] = strings.ToUpper(c)
	}
	if _, err := tw.Write([]byte(strings.Join(header, "\t") + "\n")); err != nil {
		return err
	}

	for _, row := range t.Rows() {
		cells := row.Strings()
		for i, c := range cells {
			cells[i] = plainEscaper.Replace(c)
		}
		if _, err := tw.Write([]byte(strings.Join(cells, "\t") + "\n")); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)

// MarkdownFormatter formats a table as a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

var markdownEscaper = strings.NewReplacer("|", "\\|", "\n", "<br>", "\r", "")

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	writeMarkdownLine(w, t.Columns())

	sep := make([]string, t.Width())
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownLine(w, sep)

	for _, row := range t.Rows() {
		writeMarkdownLine(w, row.Strings())
	}
	return nil
}

func writeMarkdownLine(w *bytes.Buffer, cells []string) {
	w.WriteString("|")
	for _, c := range cells {
		w.WriteString(" ")
		w.WriteString(markdownEscaper.Replace(c))
		w.WriteString(" |")
	}
	w.WriteString("\n")
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

// Ensure MarkdownFormatter implements Formatter.
var _ Formatter = (*MarkdownFormatter)(nil)
