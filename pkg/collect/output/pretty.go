package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// DefaultMaxCellWidth bounds cell width in pretty output.
const DefaultMaxCellWidth = 32

// PrettyFormatter formats a table with colors and styling using lipgloss.
// Long cells are truncated, so it is meant for terminal previews rather than
// files.
type PrettyFormatter struct {
	// MaxCellWidth bounds each cell; zero means DefaultMaxCellWidth.
	MaxCellWidth int
}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	w.WriteString(f.formatHeader(t))
	w.WriteString("\n")
	w.WriteString(f.formatTable(t))
	return nil
}

// formatHeader builds the header box with the table name and shape.
func (f *PrettyFormatter) formatHeader(t *table.Table) string {
	parts := []string{
		LabelStyle.Render("Table:") + " " + ValueStyle.Render(t.Name()),
		LabelStyle.Render("Runs:") + " " + ValueStyle.Render(humanize.Comma(int64(t.Len()))),
		LabelStyle.Render("Columns:") + " " + ValueStyle.Render(humanize.Comma(int64(t.Width()))),
	}
	return HeaderBox.Render(strings.Join(parts, "  "))
}

// formatTable renders aligned columns with the identity columns highlighted.
func (f *PrettyFormatter) formatTable(t *table.Table) string {
	if t.Len() == 0 {
		return MutedStyle.Render("  No runs") + "\n"
	}

	maxWidth := f.MaxCellWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxCellWidth
	}

	columns := t.Columns()
	cells := make([][]string, t.Len())
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(truncate(c, maxWidth))
	}
	for r, row := range t.Rows() {
		cells[r] = row.Strings()
		for i, c := range cells[r] {
			c = truncate(strings.ReplaceAll(c, "\n", " "), maxWidth)
			cells[r][i] = c
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(" ")
	for i, c := range columns {
		sb.WriteString(" ")
		sb.WriteString(TableHeaderStyle.Render(padRight(truncate(c, maxWidth), widths[i])))
	}
	sb.WriteString("\n")

	for _, row := range cells {
		sb.WriteString(" ")
		for i, c := range row {
			style := TableRowStyle
			if columns[i] == table.ColumnRunID || columns[i] == table.ColumnName {
				style = IdentityStyle
			}
			sb.WriteString(" ")
			sb.WriteString(style.Render(padRight(c, widths[i])))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncate shortens s to at most width runes, marking the cut with "…".
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

// padRight pads s with spaces to the given display width.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// Summary describes a finished collection for display.
type Summary struct {
	Sweep   string
	Method  string
	Runs    int
	Outputs []SummaryOutput
}

// SummaryOutput is one written (or failed) destination.
type SummaryOutput struct {
	Target string
	Err    error
}

// FormatSummary renders a styled collection summary.
func FormatSummary(s Summary) string {
	var lines []string

	head := LabelStyle.Render("Sweep:") + " " + ValueStyle.Render(s.Sweep)
	if s.Method != "" {
		head += "  " + LabelStyle.Render("Method:") + " " + ValueStyle.Render(s.Method)
	}
	head += "  " + LabelStyle.Render("Runs:") + " " + ValueStyle.Render(humanize.Comma(int64(s.Runs)))
	lines = append(lines, head)

	for _, o := range s.Outputs {
		if o.Err != nil {
			lines = append(lines, ErrorStyle.Render(fmt.Sprintf("✗ %s: %v", o.Target, o.Err)))
			continue
		}
		lines = append(lines, SuccessStyle.Render("✓ "+o.Target))
	}

	return FooterBox.Render(strings.Join(lines, "\n"))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
