package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// YAMLFormatter formats a table as YAML. It produces the same structure as
// JSONFormatter, with row keys kept in column order.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, t *table.Table) error {
	doc, err := f.buildOutput(t)
	if err != nil {
		return err
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	return encoder.Close()
}

// buildOutput converts the table to a YAML node tree. Plain maps would lose
// column order, so rows are built as mapping nodes.
func (f *YAMLFormatter) buildOutput(t *table.Table) (*yaml.Node, error) {
	columns := t.Columns()

	cols := &yaml.Node{Kind: yaml.SequenceNode}
	for _, c := range columns {
		cols.Content = append(cols.Content, scalar(c))
	}

	rows := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range t.Rows() {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for i, c := range columns {
			var v yaml.Node
			if err := v.Encode(table.Normalize(row.Cell(i))); err != nil {
				return nil, err
			}
			m.Content = append(m.Content, scalar(c), &v)
		}
		rows.Content = append(rows.Content, m)
	}

	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			scalar("table"), scalar(t.Name()),
			scalar("columns"), cols,
			scalar("rows"), rows,
		},
	}, nil
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
