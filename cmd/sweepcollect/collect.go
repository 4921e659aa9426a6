package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sweepcollect/pkg/client"
	"github.com/jamesainslie/sweepcollect/pkg/collect/cache"
	"github.com/jamesainslie/sweepcollect/pkg/collect/collector"
	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
	"github.com/jamesainslie/sweepcollect/pkg/collect/manifest"
	"github.com/jamesainslie/sweepcollect/pkg/collect/output"
	"github.com/jamesainslie/sweepcollect/pkg/collect/store"
	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

var log = logging.Get("cli")

// service is a collector.Service that owns a connection.
type service interface {
	collector.Service
	Close() error
}

// newService creates the tracking service client. Tests replace it.
var newService = func(cfg *config.Config) (service, error) {
	c, err := client.New(client.Options{
		BaseURL:  cfg.API.BaseURL,
		APIKey:   cfg.API.Key,
		Timeout:  cfg.API.Timeout,
		PageSize: cfg.API.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// collectOptions holds the per-invocation flags.
type collectOptions struct {
	ProjectID   string
	SweepID     string
	ConfigFile  string
	ResultsFile string
	DBPath      string
}

// destination pairs a sink with the label used in messages.
type destination struct {
	label string
	sink  collector.Sink
}

// runCollect is the root command.
func runCollect(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	opts := collectOptions{}
	opts.ProjectID, _ = flags.GetString("project-id")
	opts.SweepID, _ = flags.GetString("sweep-id")
	opts.ConfigFile, _ = flags.GetString("output-config-file")
	opts.ResultsFile, _ = flags.GetString("output-results-file")
	opts.DBPath, _ = flags.GetString("output-db")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return collect(ctx, cfg, opts)
}

// collect runs one collection and reports each outcome. Errors already
// printed are returned as errReported so the process exits non-zero
// without repeating them.
func collect(ctx context.Context, cfg *config.Config, opts collectOptions) error {
	dests, err := buildDestinations(cfg, opts)
	if err != nil {
		return err
	}

	svc, err := newService(cfg)
	if err != nil {
		printError("Failed to create the tracking service client: %v", err)
		return errReported
	}
	defer svc.Close()

	var source collector.Service = svc
	var cached *cache.Service
	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			log.Warn("Cache unavailable", "path", cfg.Cache.Path, "error", err)
			printVerbose("Cache unavailable: %v", err)
		} else {
			defer c.Close()
			cached = cache.Wrap(svc, c)
			source = cached
		}
	}

	var progress io.Writer
	if !getQuiet() {
		progress = stderr
	}
	col := collector.New(source, collector.Options{
		Entity:   cfg.API.Entity,
		Samples:  cfg.History.Samples,
		Progress: progress,
	})

	sinks := make([]collector.Sink, len(dests))
	for i, d := range dests {
		sinks[i] = d.sink
	}

	report, err := col.Collect(ctx, collector.Request{
		ProjectID: opts.ProjectID,
		SweepID:   opts.SweepID,
		Sinks:     sinks,
	})
	switch {
	case errors.Is(err, collector.ErrSweepFetch):
		fmt.Fprintf(stderr, "Error fetching the sweep: %s\n",
			strings.TrimPrefix(err.Error(), collector.ErrSweepFetch.Error()+": "))
		return errReported
	case errors.Is(err, collector.ErrNoRuns):
		fmt.Fprintln(stdout, "No runs found in the sweep.")
		return nil
	case report == nil:
		return fmt.Errorf("collecting %s/%s: %w", opts.ProjectID, opts.SweepID, err)
	}

	for i, out := range report.Outputs {
		if out.Err != nil {
			fmt.Fprintf(stderr, "Error %v\n", out.Err)
			continue
		}
		printInfo("Saved %s to %s", dests[i].label, out.Target)
	}

	if cached != nil {
		printVerbose("History cache: %d hits, %d misses", cached.Hits(), cached.Misses())
	}
	if getVerbose() && !getQuiet() {
		fmt.Fprintln(stderr, output.FormatSummary(summaryOf(report)))
	}

	recordManifest(cfg, report)

	if report.Failed() {
		return errReported
	}
	return nil
}

// buildDestinations creates the sinks in write order: config file,
// results file, then the optional database.
func buildDestinations(cfg *config.Config, opts collectOptions) ([]destination, error) {
	format := cfg.Export.Format

	configSink, err := newFileSink(table.KindConfig, opts.ConfigFile, format, cfg.Export.Template)
	if err != nil {
		return nil, err
	}
	resultsSink, err := newFileSink(table.KindResults, opts.ResultsFile, format, cfg.Export.Template)
	if err != nil {
		return nil, err
	}

	dests := []destination{
		{label: "config file", sink: configSink},
		{label: "results file", sink: resultsSink},
	}
	if opts.DBPath != "" {
		dests = append(dests, destination{label: "database", sink: store.NewSink(opts.DBPath)})
	}
	return dests, nil
}

func newFileSink(kind, path, format, tmpl string) (*output.FileSink, error) {
	s, err := output.NewFileSink(kind, path, format)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", format, output.Available())
	}
	if tf, ok := s.Formatter.(*output.TemplateFormatter); ok && tmpl != "" {
		tf.SetTemplate(tmpl)
	}
	return s, nil
}

func summaryOf(report *collector.Report) output.Summary {
	s := output.Summary{
		Sweep:  report.Sweep.Path.String(),
		Method: report.Sweep.Method,
		Runs:   report.Runs,
	}
	for _, o := range report.Outputs {
		s.Outputs = append(s.Outputs, output.SummaryOutput{Target: o.Target, Err: o.Err})
	}
	return s
}

// recordManifest appends the collection to the history. Failures are
// logged only.
func recordManifest(cfg *config.Config, report *collector.Report) {
	if !cfg.Manifest.Enabled {
		return
	}

	m, err := manifest.New(cfg.Manifest.Path)
	if err == nil {
		err = m.EnsureDir()
	}
	if err != nil {
		log.Warn("Manifest unavailable", "error", err)
		return
	}

	entry := &manifest.Entry{
		Timestamp:      report.Started.UTC(),
		Sweep:          report.Sweep.Path.String(),
		Method:         report.Sweep.Method,
		Runs:           report.Runs,
		ConfigColumns:  report.Tables.Config.Width(),
		ResultsColumns: report.Tables.Results.Width(),
		Duration:       report.Duration,
	}
	for _, o := range report.Outputs {
		out := manifest.Output{Target: o.Target}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		entry.Outputs = append(entry.Outputs, out)
	}

	if err := m.Record(entry); err != nil {
		log.Warn("Failed to record manifest entry", "error", err)
		return
	}
	printVerbose("Recorded history entry %s", entry.ShortID())
}
