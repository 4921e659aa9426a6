package output

import (
	"bytes"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// TemplateFormatter formats a table using a Go text/template. The sprig
// function library is available alongside a few table helpers.
type TemplateFormatter struct {
	templateStr string
	template    *template.Template
	mu          sync.Mutex
}

// templateData is the data passed to the template.
type templateData struct {
	Name    string
	Columns []string
	Rows    []templateRow
}

// templateRow exposes a row both positionally and by column name.
type templateRow struct {
	Cells  []string
	Values map[string]string
	Raw    map[string]any
}

// NewTemplateFormatter creates a new template formatter with the given template string.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{
		templateStr: templateStr,
	}
}

// SetTemplate sets or updates the template string.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

// templateFuncs returns sprig's functions plus table helpers.
func templateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()

	// cell formats any value the way CSV output does.
	// Usage: {{cell (index .Raw "lr")}}
	funcs["cell"] = table.FormatCell

	// comma formats an integer with thousands separators.
	// Usage: {{comma (len .Rows)}}
	funcs["comma"] = func(n int) string {
		return humanize.Comma(int64(n))
	}
	return funcs
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}

	columns := t.Columns()
	data := templateData{
		Name:    t.Name(),
		Columns: columns,
		Rows:    make([]templateRow, 0, t.Len()),
	}
	for _, row := range t.Rows() {
		tr := templateRow{
			Cells:  row.Strings(),
			Values: make(map[string]string, len(columns)),
			Raw:    make(map[string]any, len(columns)),
		}
		for i, c := range columns {
			tr.Values[c] = tr.Cells[i]
			tr.Raw[c] = row.Cell(i)
		}
		data.Rows = append(data.Rows, tr)
	}

	return f.template.Execute(w, data)
}

// defaultTemplate lists each run with its identity columns.
const defaultTemplate = `{{range .Rows}}{{index .Values "run_id"}}	{{index .Values "name"}}
{{end}}`

func init() {
	Register("template", func() Formatter {
		return NewTemplateFormatter(defaultTemplate)
	})
}

// Ensure TemplateFormatter implements Formatter.
var _ Formatter = (*TemplateFormatter)(nil)
