// Package collector turns the runs of a sweep into a ConfigTable and a
// ResultsTable and hands both to output sinks.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

var (
	// ErrSweepFetch wraps any failure to resolve the sweep.
	ErrSweepFetch = errors.New("error fetching the sweep")

	// ErrNoRuns is returned when the sweep has no runs.
	ErrNoRuns = errors.New("no runs found in the sweep")
)

// DefaultSamples is the number of history steps requested per run when
// Options.Samples is zero.
const DefaultSamples = 500

var log = logging.Get("collector")

// Service is the subset of the tracking service a Collector needs.
type Service interface {
	// GetSweep resolves the sweep at path.
	GetSweep(ctx context.Context, path types.SweepPath) (*types.Sweep, error)

	// Runs lists the runs of sweep in service order.
	Runs(ctx context.Context, sweep *types.Sweep) ([]*types.Run, error)

	// History returns the run's history steps in step order.
	History(ctx context.Context, run *types.Run, samples int) ([]*types.Record, error)
}

// Sink receives the finished tables. Each sink is written independently.
type Sink interface {
	// Target names the destination, e.g. a file path.
	Target() string

	// Write persists the tables it is responsible for.
	Write(ctx context.Context, bundle *table.Bundle) error
}

// Options configures a Collector.
type Options struct {
	// Entity is used for project ids that do not name one.
	Entity string

	// Samples is the number of history steps requested per run.
	Samples int

	// Progress receives a progress bar while histories are fetched.
	// Nil disables it.
	Progress io.Writer
}

// Collector builds sweep tables from a Service.
type Collector struct {
	svc  Service
	opts Options
}

// New creates a Collector reading from svc.
func New(svc Service, opts Options) *Collector {
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	return &Collector{svc: svc, opts: opts}
}

// FetchSweep resolves projectID/sweepID. Any failure, including a missing
// sweep, is wrapped in ErrSweepFetch.
func (c *Collector) FetchSweep(ctx context.Context, projectID, sweepID string) (*types.Sweep, error) {
	path, err := types.ParseSweepPath(projectID, sweepID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSweepFetch, err)
	}
	path = path.WithDefaultEntity(c.opts.Entity)

	sweep, err := c.svc.GetSweep(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSweepFetch, err)
	}
	return sweep, nil
}

// ListRuns returns every run of sweep in service order. An empty sweep
// yields ErrNoRuns.
func (c *Collector) ListRuns(ctx context.Context, sweep *types.Sweep) ([]*types.Run, error) {
	runs, err := c.svc.Runs(ctx, sweep)
	if err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", sweep.Path, err)
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return runs, nil
}

// BuildConfigTable builds one row per run. Columns are the config keys of
// the last run, in service order, followed by run_id and name. A key the
// run lacks yields a nil cell.
func BuildConfigTable(runs []*types.Run) (*table.Table, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}

	keys := dataColumns(runs[len(runs)-1].Config.Keys())
	b, err := table.NewBuilder(table.KindConfig, withIdentity(keys))
	if err != nil {
		return nil, fmt.Errorf("config columns: %w", err)
	}

	for _, run := range runs {
		cells := make([]any, 0, len(keys)+2)
		for _, key := range keys {
			value, _ := run.Config.Get(key)
			cells = append(cells, value)
		}
		cells = append(cells, run.ID, run.Name)
		if err := b.Append(cells); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// BuildResultsTable fetches every run's history and builds one row per run.
// Columns are the metric names seen in the last run's history, in
// first-seen order, followed by run_id and name. Each metric cell holds the
// metric's values across the run's steps; steps without the metric are
// skipped. A history failure aborts the whole table.
func (c *Collector) BuildResultsTable(ctx context.Context, runs []*types.Run) (*table.Table, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}

	bar := c.startProgress(len(runs))
	defer bar.finish()

	histories := make([][]*types.Record, len(runs))
	for i, run := range runs {
		steps, err := c.history(ctx, run)
		if err != nil {
			return nil, err
		}
		histories[i] = steps
		bar.increment()
	}

	metrics := dataColumns(MetricKeys(histories[len(runs)-1]))
	b, err := table.NewBuilder(table.KindResults, withIdentity(metrics))
	if err != nil {
		return nil, fmt.Errorf("results columns: %w", err)
	}

	for i, run := range runs {
		cells := make([]any, 0, len(metrics)+2)
		for _, seq := range Sequences(histories[i], metrics) {
			cells = append(cells, seq)
		}
		cells = append(cells, run.ID, run.Name)
		if err := b.Append(cells); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func (c *Collector) history(ctx context.Context, run *types.Run) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	steps, err := c.svc.History(ctx, run, c.opts.Samples)
	if err != nil {
		return nil, fmt.Errorf("fetching history of run %s: %w", run.ID, err)
	}
	log.Debug("fetched history", "run", run.ID, "steps", len(steps), "duration", time.Since(start))
	return steps, nil
}

// MetricKeys returns the union of the steps' keys in first-seen order.
func MetricKeys(steps []*types.Record) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, step := range steps {
		for _, key := range step.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// Sequences returns, for each metric, the values it took across steps in
// step order. Steps lacking the metric contribute nothing; a metric logged
// as null contributes nil. Every sequence is non-nil and at most
// len(steps) long.
func Sequences(steps []*types.Record, metrics []string) [][]any {
	out := make([][]any, len(metrics))
	for i := range out {
		out[i] = []any{}
	}
	for _, step := range steps {
		for i, metric := range metrics {
			if value, ok := step.Get(metric); ok {
				out[i] = append(out[i], value)
			}
		}
	}
	return out
}

// dataColumns drops names that collide with the identity columns, which
// always hold the run's id and name.
func dataColumns(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == table.ColumnRunID || key == table.ColumnName {
			continue
		}
		out = append(out, key)
	}
	return out
}

func withIdentity(columns []string) []string {
	out := make([]string, 0, len(columns)+2)
	out = append(out, columns...)
	return append(out, table.ColumnRunID, table.ColumnName)
}

// progress wraps an optional progress bar.
type progress struct {
	bar *pb.ProgressBar
}

func (c *Collector) startProgress(total int) *progress {
	if c.opts.Progress == nil {
		return &progress{}
	}
	bar := pb.New(total).SetWriter(c.opts.Progress)
	bar.Set("prefix", "histories ")
	bar.SetTemplateString(`{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }}`)
	return &progress{bar: bar.Start()}
}

func (p *progress) increment() {
	if p.bar != nil {
		p.bar.Increment()
	}
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

// Request describes one collection.
type Request struct {
	ProjectID string
	SweepID   string

	// Sinks receive the finished tables, in order.
	Sinks []Sink
}

// Output records the outcome of writing one sink.
type Output struct {
	Target string
	Err    error
}

// Report summarizes a collection.
type Report struct {
	Sweep    *types.Sweep
	Runs     int
	Tables   *table.Bundle
	Outputs  []Output
	Started  time.Time
	Duration time.Duration
}

// Failed reports whether any sink failed.
func (r *Report) Failed() bool {
	for _, o := range r.Outputs {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// Collect runs the full pipeline: fetch the sweep, list its runs, build
// both tables, and write every sink.
//
// A sweep failure, an empty sweep, or a history failure returns before any
// sink is written, with a nil Report. Otherwise every sink is attempted
// even when earlier ones fail; the Report lists each outcome and the
// returned error aggregates the failures.
func (c *Collector) Collect(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()

	sweep, err := c.FetchSweep(ctx, req.ProjectID, req.SweepID)
	if err != nil {
		return nil, err
	}
	log.Info("fetched sweep", "sweep", sweep.Path, "state", sweep.State, "method", sweep.Method)

	runs, err := c.ListRuns(ctx, sweep)
	if err != nil {
		return nil, err
	}
	log.Info("listed runs", "sweep", sweep.Path, "runs", len(runs))

	configTable, err := BuildConfigTable(runs)
	if err != nil {
		return nil, err
	}
	resultsTable, err := c.BuildResultsTable(ctx, runs)
	if err != nil {
		return nil, err
	}
	log.Info("built tables",
		"config_columns", configTable.Width(),
		"results_columns", resultsTable.Width(),
		"rows", configTable.Len())

	bundle := &table.Bundle{Source: sweep.Path.String(), Config: configTable, Results: resultsTable}
	report := &Report{
		Sweep:   sweep,
		Runs:    len(runs),
		Tables:  bundle,
		Started: started,
	}

	var errs *multierror.Error
	for _, sink := range req.Sinks {
		err := sink.Write(ctx, bundle)
		report.Outputs = append(report.Outputs, Output{Target: sink.Target(), Err: err})
		if err != nil {
			log.Error("write failed", "target", sink.Target(), "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		log.Info("wrote output", "target", sink.Target())
	}

	report.Duration = time.Since(started)
	return report, errs.ErrorOrNil()
}
