package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
)

// initializeLogging is the PersistentPreRunE hook. It sets up the XDG
// directories and the log file. Logging problems are reported but never
// stop a command.
func initializeLogging(_ *cobra.Command, _ []string) error {
	for _, dir := range []string{config.DataDir(), config.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			printVerbose("Could not create %s: %v", dir, err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		printVerbose("Using default logging: %v", err)
		cfg = &config.Config{}
	}

	if err := logging.Init(loggingConfig(cfg, getVerbose())); err != nil {
		fmt.Fprintf(stderr, "Warning: logging disabled: %v\n", err)
	}
	return nil
}

// loggingConfig maps the user configuration onto the logging package.
func loggingConfig(cfg *config.Config, verbose bool) logging.Config {
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}

	lc := logging.Config{
		Level:      level,
		Path:       cfg.Logging.Path,
		Rotation:   parseRotationConfig(cfg.Logging.Rotation),
		Components: cfg.Logging.Components,
	}
	if verbose {
		lc.Level = "debug"
		lc.Components = nil
		lc.ConsoleLevel = "debug"
		lc.Console = stderr
	}
	return lc
}

// parseRotationConfig converts config.RotationConfig to logging.RotationConfig.
func parseRotationConfig(cfg config.RotationConfig) logging.RotationConfig {
	return logging.ParseRotation(cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Daily)
}
