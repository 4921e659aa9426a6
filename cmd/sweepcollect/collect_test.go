package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
	"github.com/jamesainslie/sweepcollect/pkg/collect/manifest"
	"github.com/jamesainslie/sweepcollect/pkg/collect/store"
	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

type fakeService struct {
	mu           sync.Mutex
	sweepErr     error
	runs         []*types.Run
	histories    map[string][]*types.Record
	historyErr   error
	historyCalls int
	closed       bool
}

func (f *fakeService) GetSweep(_ context.Context, path types.SweepPath) (*types.Sweep, error) {
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	return &types.Sweep{Path: path, Name: path.Sweep, Method: "bayes"}, nil
}

func (f *fakeService) Runs(_ context.Context, sweep *types.Sweep) ([]*types.Run, error) {
	for _, r := range f.runs {
		r.Path = sweep.Path
	}
	return f.runs, nil
}

func (f *fakeService) History(_ context.Context, run *types.Run, _ int) ([]*types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.histories[run.ID], nil
}

func (f *fakeService) Close() error {
	f.closed = true
	return nil
}

func record(kv ...any) *types.Record {
	r := types.NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func newFakeService() *fakeService {
	return &fakeService{
		runs: []*types.Run{
			{ID: "r1", Name: "calm-1", State: types.RunStateFinished,
				Config: record("lr", json.Number("0.1"), "opt", "adam")},
			{ID: "r2", Name: "bold-2", State: types.RunStateFinished,
				Config: record("lr", json.Number("0.01"), "opt", "sgd", "layers", json.Number("3"))},
		},
		histories: map[string][]*types.Record{
			"r1": {record("loss", json.Number("0.9")), record("loss", json.Number("0.7"))},
			"r2": {record("loss", json.Number("0.5"), "acc", json.Number("0.1")), record("loss", json.Number("0.4"))},
		},
	}
}

type harness struct {
	cfg    *config.Config
	svc    *fakeService
	out    *bytes.Buffer
	errOut *bytes.Buffer
	dir    string
	opts   collectOptions
}

func setup(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	viper.Reset()
	viper.Set("quiet", false)
	viper.Set("verbose", false)
	t.Cleanup(viper.Reset)

	h := &harness{
		svc:    newFakeService(),
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		dir:    dir,
		opts: collectOptions{
			ProjectID:   "lab/mnist",
			SweepID:     "abc",
			ConfigFile:  filepath.Join(dir, "config.csv"),
			ResultsFile: filepath.Join(dir, "results.csv"),
		},
	}

	h.cfg = &config.Config{}
	h.cfg.Export.Format = "csv"
	h.cfg.History.Samples = 500
	h.cfg.Cache.Path = filepath.Join(dir, "cache")
	h.cfg.Manifest.Enabled = true
	h.cfg.Manifest.Path = filepath.Join(dir, "manifest")
	h.cfg.Manifest.RetentionDays = 90

	origService, origOut, origErr := newService, stdout, stderr
	newService = func(*config.Config) (service, error) { return h.svc, nil }
	stdout, stderr = h.out, h.errOut
	t.Cleanup(func() {
		newService, stdout, stderr = origService, origOut, origErr
	})
	return h
}

func (h *harness) run() error {
	return collect(context.Background(), h.cfg, h.opts)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestCollect_WritesBothTables(t *testing.T) {
	h := setup(t)

	require.NoError(t, h.run())

	assert.Equal(t,
		"lr,opt,layers,run_id,name\n"+
			"0.1,adam,,r1,calm-1\n"+
			"0.01,sgd,3,r2,bold-2\n",
		readFile(t, h.opts.ConfigFile))
	assert.Equal(t,
		"loss,acc,run_id,name\n"+
			"\"[0.9,0.7]\",[],r1,calm-1\n"+
			"\"[0.5,0.4]\",[0.1],r2,bold-2\n",
		readFile(t, h.opts.ResultsFile))

	assert.Contains(t, h.out.String(), "Saved config file to "+h.opts.ConfigFile)
	assert.Contains(t, h.out.String(), "Saved results file to "+h.opts.ResultsFile)
	assert.True(t, h.svc.closed)
	assert.Equal(t, 2, h.svc.historyCalls)
}

func TestCollect_RecordsManifest(t *testing.T) {
	h := setup(t)
	require.NoError(t, h.run())

	m, err := manifest.New(h.cfg.Manifest.Path)
	require.NoError(t, err)
	entries, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "lab/mnist/abc", e.Sweep)
	assert.Equal(t, "bayes", e.Method)
	assert.Equal(t, 2, e.Runs)
	assert.Equal(t, 5, e.ConfigColumns)
	assert.Equal(t, 4, e.ResultsColumns)
	require.Len(t, e.Outputs, 2)
	assert.False(t, e.Failed())
}

func TestCollect_SweepFetchFailureWritesNothing(t *testing.T) {
	h := setup(t)
	h.svc.sweepErr = errors.New("connection refused")

	err := h.run()
	assert.ErrorIs(t, err, errReported)
	assert.Equal(t, "Error fetching the sweep: connection refused\n", h.errOut.String())

	assertMissing(t, h.opts.ConfigFile)
	assertMissing(t, h.opts.ResultsFile)
	assertMissing(t, h.cfg.Manifest.Path)
}

func TestCollect_EmptySweepWritesNothing(t *testing.T) {
	h := setup(t)
	h.svc.runs = nil

	require.NoError(t, h.run())
	assert.Equal(t, "No runs found in the sweep.\n", h.out.String())
	assert.Zero(t, h.svc.historyCalls)

	assertMissing(t, h.opts.ConfigFile)
	assertMissing(t, h.opts.ResultsFile)
}

func TestCollect_HistoryFailureWritesNothing(t *testing.T) {
	h := setup(t)
	h.svc.historyErr = errors.New("502 bad gateway")

	err := h.run()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errReported)
	assert.Contains(t, err.Error(), "502 bad gateway")

	assertMissing(t, h.opts.ConfigFile)
	assertMissing(t, h.opts.ResultsFile)
}

func TestCollect_WriteFailuresAreIndependent(t *testing.T) {
	h := setup(t)
	h.opts.ConfigFile = filepath.Join(h.dir, "missing", "config.csv")

	err := h.run()
	assert.ErrorIs(t, err, errReported)

	assert.Contains(t, h.errOut.String(), "Error writing to "+h.opts.ConfigFile+":")
	assert.Contains(t, h.out.String(), "Saved results file to "+h.opts.ResultsFile)
	assert.NotContains(t, h.out.String(), "Saved config file")

	assertMissing(t, h.opts.ConfigFile)
	assert.True(t, strings.HasPrefix(readFile(t, h.opts.ResultsFile), "loss,acc,run_id,name\n"))

	// The partial failure is still recorded.
	m, _ := manifest.New(h.cfg.Manifest.Path)
	entries, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Failed())
}

func TestCollect_Database(t *testing.T) {
	h := setup(t)
	h.opts.DBPath = filepath.Join(h.dir, "sweeps.db")

	require.NoError(t, h.run())
	assert.Contains(t, h.out.String(), "Saved database to "+h.opts.DBPath)

	db, err := store.Open(h.opts.DBPath)
	require.NoError(t, err)
	defer db.Close()

	results, err := db.LoadTable(context.Background(), table.KindResults, "lab/mnist/abc")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"loss", "acc", "run_id", "name"},
		{"[0.9,0.7]", "[]", "r1", "calm-1"},
		{"[0.5,0.4]", "[0.1]", "r2", "bold-2"},
	}, results.Strings())
}

func TestCollect_JSONFormat(t *testing.T) {
	h := setup(t)
	h.cfg.Export.Format = "json"

	require.NoError(t, h.run())

	var doc struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(readFile(t, h.opts.ResultsFile)), &doc))
	assert.Equal(t, []string{"loss", "acc", "run_id", "name"}, doc.Columns)
	assert.Len(t, doc.Rows, 2)
}

func TestCollect_TemplateFormat(t *testing.T) {
	h := setup(t)
	h.cfg.Export.Format = "template"
	h.cfg.Export.Template = `{{range .Rows}}{{index .Values "name"}};{{end}}`

	require.NoError(t, h.run())
	assert.Equal(t, "calm-1;bold-2;", readFile(t, h.opts.ConfigFile))
}

func TestCollect_UnknownFormat(t *testing.T) {
	h := setup(t)
	h.cfg.Export.Format = "xml"

	err := h.run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
	assert.Zero(t, h.svc.historyCalls)
}

func TestCollect_ServiceCreationFailure(t *testing.T) {
	h := setup(t)
	newService = func(*config.Config) (service, error) { return nil, errors.New("missing API key") }

	err := h.run()
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, h.errOut.String(), "missing API key")
	assertMissing(t, h.opts.ConfigFile)
}

func TestCollect_CacheAvoidsRefetch(t *testing.T) {
	h := setup(t)
	h.cfg.Cache.Enabled = true

	require.NoError(t, h.run())
	assert.Equal(t, 2, h.svc.historyCalls)

	first := readFile(t, h.opts.ResultsFile)

	require.NoError(t, h.run())
	assert.Equal(t, 2, h.svc.historyCalls, "finished runs should be served from the cache")
	assert.Equal(t, first, readFile(t, h.opts.ResultsFile))
}

func TestCollect_QuietSuppressesMessages(t *testing.T) {
	h := setup(t)
	viper.Set("quiet", true)

	require.NoError(t, h.run())
	assert.Empty(t, h.out.String())
	assert.Empty(t, h.errOut.String())
}

func TestWordSepNormalizeFunc(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetNormalizeFunc(wordSepNormalizeFunc)
	project := fs.String("project-id", "", "")
	results := fs.String("output-results-file", "", "")

	require.NoError(t, fs.Parse([]string{"--project_id", "lab/mnist", "--output-results-file", "r.csv"}))
	assert.Equal(t, "lab/mnist", *project)
	assert.Equal(t, "r.csv", *results)
}

func TestRootCommandFlags(t *testing.T) {
	for _, name := range []string{
		"project_id", "sweep_id", "output_config_file", "output_results_file",
		"format", "output-db", "samples", "cache",
	} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("quiet"))
}
