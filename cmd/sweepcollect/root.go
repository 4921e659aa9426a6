package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
	"github.com/jamesainslie/sweepcollect/pkg/collect/output"
)

// errReported signals a failure whose message was already printed.
var errReported = errors.New("error already reported")

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "sweepcollect",
		Short: "Export the runs of a W&B sweep to CSV",
		Long: `sweepcollect fetches a sweep from Weights & Biases and writes two tables:

  config   one row per run with its hyperparameters
  results  one row per run with the full history of each logged metric

Columns are taken from the last run of the sweep. Both files are written
independently; a failure writing one does not prevent the other.

Examples:
  sweepcollect --project_id lab/mnist --sweep_id abc123 \
      --output_config_file config.csv --output_results_file results.csv
  sweepcollect --project-id mnist --sweep-id abc123 \
      --output-config-file c.json --output-results-file r.json --format json
  sweepcollect config show          # Show configuration
  sweepcollect history              # View collection history`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeLogging,
		PersistentPostRun: func(*cobra.Command, []string) { _ = logging.Close() },
		RunE:              runCollect,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Underscore spellings are accepted as aliases of the dashed flags.
	rootCmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/sweepcollect/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	flags := rootCmd.Flags()
	flags.String("project-id", "", "project holding the sweep, as project or entity/project")
	flags.String("sweep-id", "", "sweep identifier")
	flags.String("output-config-file", "", "destination of the config table")
	flags.String("output-results-file", "", "destination of the results table")
	flags.StringP("format", "f", "", "output format: "+strings.Join(output.Available(), ", "))
	flags.String("template", "", "Go template used with --format template")
	flags.String("output-db", "", "also store both tables in this SQLite database")
	flags.Int("samples", 0, "history steps requested per run")
	flags.Bool("cache", false, "cache histories of finished runs")
	flags.String("entity", "", "default entity for project ids without one")

	for _, name := range []string{"project-id", "sweep-id", "output-config-file", "output-results-file"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	// Bind flags to viper
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("export.format", flags.Lookup("format"))
	_ = viper.BindPFlag("export.template", flags.Lookup("template"))
	_ = viper.BindPFlag("history.samples", flags.Lookup("samples"))
	_ = viper.BindPFlag("cache.enabled", flags.Lookup("cache"))
	_ = viper.BindPFlag("api.entity", flags.Lookup("entity"))
}

// wordSepNormalizeFunc maps "project_id" to "project-id".
func wordSepNormalizeFunc(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		config.AddConfigPaths(v)
	}
	config.SetDefaults(v)

	// Read config file (a missing default file is fine)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			printError("Failed to read config file: %v", err)
		}
	}
}

// loadConfig decodes the global viper settings.
func loadConfig() (*config.Config, error) {
	return config.Decode(viper.GetViper())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// Output streams, replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(stdout, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
}
