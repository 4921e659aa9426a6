package table

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()

	b, err := NewBuilder(KindConfig, []string{"lr", "optimizer", ColumnRunID, ColumnName})
	require.NoError(t, err)

	require.NoError(t, b.Append([]any{json.Number("0.001"), "adam", "r1", "bright-sun-1"}))
	require.NoError(t, b.Append([]any{nil, "sgd", "r2", "calm, cold-2"}))
	require.NoError(t, b.AppendMap(map[string]any{"lr": 0.1, ColumnRunID: "r3", ColumnName: "wise-tree-3", "ignored": 1}))

	return b.Build()
}

func TestBuilder_Build(t *testing.T) {
	tbl := newTestTable(t)

	assert.Equal(t, KindConfig, tbl.Name())
	assert.Equal(t, []string{"lr", "optimizer", "run_id", "name"}, tbl.Columns())
	assert.Equal(t, 4, tbl.Width())
	require.Equal(t, 3, tbl.Len())

	v, ok := tbl.Value(1, "lr")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, ok = tbl.Value(2, "optimizer")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = tbl.Value(0, "missing")
	assert.False(t, ok)
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))
}

func TestBuilder_RejectsWrongWidth(t *testing.T) {
	b, err := NewBuilder("t", []string{"a", "b"})
	require.NoError(t, err)

	err = b.Append([]any{1})
	assert.ErrorIs(t, err, ErrColumnCount)
	assert.Equal(t, 0, b.Len())
}

func TestBuilder_RejectsDuplicateColumns(t *testing.T) {
	_, err := NewBuilder("t", []string{"a", "run_id", "a"})
	assert.ErrorIs(t, err, ErrDuplicateColumn)
}

func TestBuilder_AppendAfterBuild(t *testing.T) {
	b, err := NewBuilder("t", []string{"a"})
	require.NoError(t, err)
	b.Build()

	assert.Error(t, b.Append([]any{1}))
}

func TestBuilder_RowsAreCopied(t *testing.T) {
	b, err := NewBuilder("t", []string{"a"})
	require.NoError(t, err)

	cells := []any{"first"}
	require.NoError(t, b.Append(cells))
	cells[0] = "changed"

	tbl := b.Build()
	assert.Equal(t, "first", tbl.Row(0).Cell(0))

	out := tbl.Row(0).Cells()
	out[0] = "mutated"
	assert.Equal(t, "first", tbl.Row(0).Cell(0))
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "adam", want: "adam"},
		{name: "json number", in: json.Number("1e-05"), want: "1e-05"},
		{name: "bool", in: true, want: "true"},
		{name: "int", in: 42, want: "42"},
		{name: "int64", in: int64(-7), want: "-7"},
		{name: "integral float", in: 3.0, want: "3"},
		{name: "fraction", in: 0.25, want: "0.25"},
		{name: "tiny float", in: 1e-9, want: "1e-09"},
		{name: "nan", in: math.NaN(), want: "NaN"},
		{name: "inf", in: math.Inf(-1), want: "-Infinity"},
		{name: "sequence", in: []any{json.Number("0.5"), json.Number("0.25")}, want: "[0.5,0.25]"},
		{name: "empty sequence", in: []any{}, want: "[]"},
		{name: "sequence with nan", in: []any{1.0, math.NaN()}, want: `[1,"NaN"]`},
		{name: "map", in: map[string]any{"b": 1, "a": "x"}, want: `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCell(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"int":   json.Number("3"),
		"float": json.Number("0.5"),
		"list":  []any{json.Number("1"), "x"},
	}

	got := Normalize(in)

	want := map[string]any{
		"int":   int64(3),
		"float": 0.5,
		"list":  []any{int64(1), "x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_RoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "lr,optimizer,run_id,name", lines[0])
	assert.Equal(t, `,sgd,r2,"calm, cold-2"`, lines[2])

	back, err := ReadCSV(KindConfig, &buf)
	require.NoError(t, err)

	assert.Equal(t, tbl.Columns(), back.Columns())
	assert.Equal(t, tbl.Len(), back.Len())
	if diff := cmp.Diff(tbl.Strings(), back.Strings()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	v, ok := back.Value(1, "lr")
	assert.True(t, ok)
	assert.Nil(t, v, "empty field reads back as null")
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV("t", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = ReadCSV("t", strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestBundle_Get(t *testing.T) {
	cfg := newTestTable(t)
	b := &Bundle{Source: "team/proj/sweep", Config: cfg}

	assert.Same(t, cfg, b.Get(KindConfig))
	assert.Nil(t, b.Get(KindResults))
	assert.Nil(t, b.Get("other"))
}
