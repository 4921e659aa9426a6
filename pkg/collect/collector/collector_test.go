package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GetSweep(ctx context.Context, path types.SweepPath) (*types.Sweep, error) {
	args := m.Called(ctx, path)
	sweep, _ := args.Get(0).(*types.Sweep)
	return sweep, args.Error(1)
}

func (m *mockService) Runs(ctx context.Context, sweep *types.Sweep) ([]*types.Run, error) {
	args := m.Called(ctx, sweep)
	runs, _ := args.Get(0).([]*types.Run)
	return runs, args.Error(1)
}

func (m *mockService) History(ctx context.Context, run *types.Run, samples int) ([]*types.Record, error) {
	args := m.Called(ctx, run, samples)
	steps, _ := args.Get(0).([]*types.Record)
	return steps, args.Error(1)
}

type recordingSink struct {
	target string
	err    error
	got    []*table.Bundle
}

func (s *recordingSink) Target() string { return s.target }

func (s *recordingSink) Write(_ context.Context, b *table.Bundle) error {
	s.got = append(s.got, b)
	return s.err
}

// record builds a Record from alternating key/value arguments.
func record(kv ...any) *types.Record {
	r := types.NewRecord()
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

var testPath = types.SweepPath{Entity: "lab", Project: "mnist", Sweep: "abc"}

func testRuns() []*types.Run {
	return []*types.Run{
		{Path: testPath, ID: "r1", Name: "calm-1", State: types.RunStateFinished,
			Config: record("lr", 0.1, "opt", "adam", "extra", true)},
		{Path: testPath, ID: "r2", Name: "bold-2", State: types.RunStateFinished,
			Config: record("opt", "sgd")},
		{Path: testPath, ID: "r3", Name: "wise-3", State: types.RunStateRunning,
			Config: record("lr", 0.01, "opt", "sgd", "layers", json.Number("3"))},
	}
}

func testHistories() map[string][]*types.Record {
	return map[string][]*types.Record{
		"r1": {
			record("_step", 0, "loss", 0.9, "acc", 0.5),
			record("_step", 1, "loss", 0.7, "acc", 0.6),
		},
		"r2": {},
		"r3": {
			record("_step", 0, "loss", 0.8),
			record("_step", 1, "acc", 0.55),
			record("_step", 2, "loss", 0.4, "acc", 0.7),
		},
	}
}

func newMockService(t *testing.T) *mockService {
	t.Helper()
	svc := &mockService{}
	svc.On("GetSweep", mock.Anything, testPath).
		Return(&types.Sweep{Path: testPath, Name: "abc", State: "FINISHED"}, nil)
	svc.On("Runs", mock.Anything, mock.Anything).Return(testRuns(), nil)
	for id, steps := range testHistories() {
		svc.On("History", mock.Anything, mock.MatchedBy(func(r *types.Run) bool { return r.ID == id }), DefaultSamples).
			Return(steps, nil)
	}
	return svc
}

func TestFetchSweep(t *testing.T) {
	svc := newMockService(t)
	c := New(svc, Options{Entity: "lab"})

	sweep, err := c.FetchSweep(context.Background(), "mnist", "abc")
	require.NoError(t, err)
	assert.Equal(t, testPath, sweep.Path)
	svc.AssertNumberOfCalls(t, "GetSweep", 1)
	svc.AssertNotCalled(t, "Runs", mock.Anything, mock.Anything)
}

func TestFetchSweep_Failures(t *testing.T) {
	comm := errors.New("connection reset")
	svc := &mockService{}
	svc.On("GetSweep", mock.Anything, mock.Anything).Return(nil, comm)
	c := New(svc, Options{})

	_, err := c.FetchSweep(context.Background(), "lab/mnist", "abc")
	assert.ErrorIs(t, err, ErrSweepFetch)
	assert.ErrorIs(t, err, comm)

	_, err = c.FetchSweep(context.Background(), "", "abc")
	assert.ErrorIs(t, err, ErrSweepFetch)
	assert.ErrorIs(t, err, types.ErrInvalidPath)
	svc.AssertNumberOfCalls(t, "GetSweep", 1)
}

func TestListRuns_Empty(t *testing.T) {
	svc := &mockService{}
	svc.On("Runs", mock.Anything, mock.Anything).Return([]*types.Run{}, nil)

	_, err := New(svc, Options{}).ListRuns(context.Background(), &types.Sweep{Path: testPath})
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestBuildConfigTable(t *testing.T) {
	tbl, err := BuildConfigTable(testRuns())
	require.NoError(t, err)

	assert.Equal(t, table.KindConfig, tbl.Name())
	// Columns come from the last run only.
	assert.Equal(t, []string{"lr", "opt", "layers", "run_id", "name"}, tbl.Columns())
	require.Equal(t, 3, tbl.Len())

	want := [][]any{
		{0.1, "adam", nil, "r1", "calm-1"},
		{nil, "sgd", nil, "r2", "bold-2"},
		{0.01, "sgd", json.Number("3"), "r3", "wise-3"},
	}
	for i, row := range tbl.Rows() {
		if diff := cmp.Diff(want[i], row.Cells()); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestBuildConfigTable_IdentityCollision(t *testing.T) {
	runs := []*types.Run{{ID: "r1", Name: "calm-1", Config: record("name", "resnet", "lr", 0.1)}}

	tbl, err := BuildConfigTable(runs)
	require.NoError(t, err)
	assert.Equal(t, []string{"lr", "run_id", "name"}, tbl.Columns())
	name, _ := tbl.Value(0, "name")
	assert.Equal(t, "calm-1", name)
}

func TestBuildConfigTable_NoRuns(t *testing.T) {
	_, err := BuildConfigTable(nil)
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestBuildResultsTable(t *testing.T) {
	svc := newMockService(t)
	c := New(svc, Options{})

	tbl, err := c.BuildResultsTable(context.Background(), testRuns())
	require.NoError(t, err)

	assert.Equal(t, table.KindResults, tbl.Name())
	assert.Equal(t, []string{"_step", "loss", "acc", "run_id", "name"}, tbl.Columns())
	require.Equal(t, 3, tbl.Len())

	want := [][]any{
		{[]any{0, 1}, []any{0.9, 0.7}, []any{0.5, 0.6}, "r1", "calm-1"},
		{[]any{}, []any{}, []any{}, "r2", "bold-2"},
		{[]any{0, 1, 2}, []any{0.8, 0.4}, []any{0.55, 0.7}, "r3", "wise-3"},
	}
	for i, row := range tbl.Rows() {
		if diff := cmp.Diff(want[i], row.Cells()); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	svc.AssertNumberOfCalls(t, "History", 3)
	svc.AssertNotCalled(t, "GetSweep", mock.Anything, mock.Anything)
}

func TestBuildResultsTable_SequenceLengths(t *testing.T) {
	svc := newMockService(t)
	runs := testRuns()

	tbl, err := New(svc, Options{}).BuildResultsTable(context.Background(), runs)
	require.NoError(t, err)

	histories := testHistories()
	for i, run := range runs {
		for _, metric := range []string{"_step", "loss", "acc"} {
			present := 0
			for _, step := range histories[run.ID] {
				if step.Has(metric) {
					present++
				}
			}
			cell, ok := tbl.Value(i, metric)
			require.True(t, ok)
			assert.Len(t, cell, present, "run %s metric %s", run.ID, metric)
		}
	}
}

func TestBuildResultsTable_HistoryFailure(t *testing.T) {
	boom := errors.New("boom")
	svc := &mockService{}
	svc.On("History", mock.Anything, mock.MatchedBy(func(r *types.Run) bool { return r.ID == "r1" }), 10).
		Return([]*types.Record{record("loss", 1)}, nil)
	svc.On("History", mock.Anything, mock.MatchedBy(func(r *types.Run) bool { return r.ID == "r2" }), 10).
		Return(nil, boom)

	tbl, err := New(svc, Options{Samples: 10}).BuildResultsTable(context.Background(), testRuns())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, tbl)
	svc.AssertNotCalled(t, "History", mock.Anything, mock.MatchedBy(func(r *types.Run) bool { return r.ID == "r3" }), 10)
}

func TestBuildResultsTable_Progress(t *testing.T) {
	var buf bytes.Buffer
	svc := newMockService(t)

	_, err := New(svc, Options{Progress: &buf}).BuildResultsTable(context.Background(), testRuns())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "3 / 3")
}

func TestBuildResultsTable_Canceled(t *testing.T) {
	svc := &mockService{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(svc, Options{}).BuildResultsTable(ctx, testRuns())
	assert.ErrorIs(t, err, context.Canceled)
	svc.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything)
}

func TestMetricKeys(t *testing.T) {
	steps := []*types.Record{
		record("b", 1),
		record("a", 1, "b", 2),
		record("c", 1, "a", 2),
	}
	assert.Equal(t, []string{"b", "a", "c"}, MetricKeys(steps))
	assert.Empty(t, MetricKeys(nil))
}

func TestSequences(t *testing.T) {
	steps := []*types.Record{
		record("a", 1, "b", nil),
		record("b", 2),
	}
	got := Sequences(steps, []string{"a", "b", "missing"})
	assert.Equal(t, [][]any{{1}, {nil, 2}, {}}, got)
}

func TestSequences_NullValuesCount(t *testing.T) {
	steps := make([]*types.Record, 0, 3)
	for _, raw := range []string{
		`{"_step":0,"loss":null}`,
		`{"_step":1,"loss":0.5}`,
		`{"_step":2}`,
	} {
		rec, err := types.DecodeRecord([]byte(raw))
		require.NoError(t, err)
		steps = append(steps, rec)
	}

	got := Sequences(steps, []string{"_step", "loss"})
	require.Len(t, got, 2)
	assert.Len(t, got[0], 3)
	// A logged null is present; a missing key is skipped.
	assert.Equal(t, []any{nil, json.Number("0.5")}, got[1])
}

func TestBuildResultsTable_NullMetric(t *testing.T) {
	step, err := types.DecodeRecord([]byte(`{"_step":0,"loss":null}`))
	require.NoError(t, err)

	runs := []*types.Run{{Path: testPath, ID: "r1", Name: "calm-1", State: types.RunStateFinished}}
	svc := &mockService{}
	svc.On("History", mock.Anything, mock.Anything, DefaultSamples).Return([]*types.Record{step}, nil)

	tbl, err := New(svc, Options{}).BuildResultsTable(context.Background(), runs)
	require.NoError(t, err)
	assert.Equal(t, []string{"_step", "loss", "run_id", "name"}, tbl.Columns())
	loss, _ := tbl.Value(0, "loss")
	assert.Equal(t, []any{nil}, loss)
}

func TestCollect(t *testing.T) {
	svc := newMockService(t)
	configSink := &recordingSink{target: "config.csv"}
	resultsSink := &recordingSink{target: "results.csv"}

	report, err := New(svc, Options{Entity: "lab"}).Collect(context.Background(), Request{
		ProjectID: "mnist",
		SweepID:   "abc",
		Sinks:     []Sink{configSink, resultsSink},
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 3, report.Runs)
	assert.Equal(t, testPath, report.Sweep.Path)
	assert.False(t, report.Failed())
	assert.Equal(t, []Output{{Target: "config.csv"}, {Target: "results.csv"}}, report.Outputs)

	require.Len(t, configSink.got, 1)
	require.Len(t, resultsSink.got, 1)
	assert.Same(t, configSink.got[0], resultsSink.got[0])
	assert.Equal(t, "lab/mnist/abc", configSink.got[0].Source)

	// run_id and name identify each row in both tables.
	for _, tbl := range []*table.Table{report.Tables.Config, report.Tables.Results} {
		for i, run := range testRuns() {
			id, _ := tbl.Value(i, table.ColumnRunID)
			name, _ := tbl.Value(i, table.ColumnName)
			assert.Equal(t, run.ID, id)
			assert.Equal(t, run.Name, name)
		}
	}
}

func TestCollect_SweepFailureWritesNothing(t *testing.T) {
	svc := &mockService{}
	svc.On("GetSweep", mock.Anything, mock.Anything).Return(nil, errors.New("comm error"))
	sink := &recordingSink{target: "config.csv"}

	report, err := New(svc, Options{}).Collect(context.Background(), Request{
		ProjectID: "lab/mnist", SweepID: "abc", Sinks: []Sink{sink},
	})
	assert.ErrorIs(t, err, ErrSweepFetch)
	assert.Nil(t, report)
	assert.Empty(t, sink.got)
	svc.AssertNotCalled(t, "Runs", mock.Anything, mock.Anything)
}

func TestCollect_NoRunsWritesNothing(t *testing.T) {
	svc := &mockService{}
	svc.On("GetSweep", mock.Anything, mock.Anything).Return(&types.Sweep{Path: testPath}, nil)
	svc.On("Runs", mock.Anything, mock.Anything).Return(nil, nil)
	sink := &recordingSink{target: "config.csv"}

	report, err := New(svc, Options{}).Collect(context.Background(), Request{
		ProjectID: "lab/mnist", SweepID: "abc", Sinks: []Sink{sink},
	})
	assert.ErrorIs(t, err, ErrNoRuns)
	assert.Nil(t, report)
	assert.Empty(t, sink.got)
}

func TestCollect_IndependentSinkFailures(t *testing.T) {
	svc := newMockService(t)
	diskFull := errors.New("disk full")
	failing := &recordingSink{target: "/readonly/config.csv", err: diskFull}
	ok := &recordingSink{target: "results.csv"}

	report, err := New(svc, Options{Entity: "lab"}).Collect(context.Background(), Request{
		ProjectID: "mnist", SweepID: "abc", Sinks: []Sink{failing, ok},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	require.NotNil(t, report)
	assert.True(t, report.Failed())

	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1, "the second sink is written despite the first failing")
	assert.Equal(t, []Output{{Target: "/readonly/config.csv", Err: diskFull}, {Target: "results.csv"}}, report.Outputs)
}
