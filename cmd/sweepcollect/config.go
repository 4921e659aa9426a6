package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sweepcollect/pkg/collect/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage sweepcollect configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/sweepcollect/config.yaml (if set)
  2. ~/.config/sweepcollect/config.yaml

Environment variables can override config file settings using the
SWEEPCOLLECT_ prefix:
  SWEEPCOLLECT_API_ENTITY=lab
  SWEEPCOLLECT_HISTORY_SAMPLES=1000
  SWEEPCOLLECT_EXPORT_FORMAT=json

The API key is read from WANDB_API_KEY when api.key is not set.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	w := cmd.OutOrStdout()
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", configFile)
	} else {
		fmt.Fprintln(w, "Config file: (using defaults, no file found)")
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "api.base_url:             %s\n", cfg.API.BaseURL)
	fmt.Fprintf(w, "api.key:                  %s\n", maskKey(cfg.API.Key))
	fmt.Fprintf(w, "api.entity:               %s\n", cfg.API.Entity)
	fmt.Fprintf(w, "api.timeout:              %s\n", cfg.API.Timeout)
	fmt.Fprintf(w, "api.page_size:            %d\n", cfg.API.PageSize)
	fmt.Fprintf(w, "history.samples:          %d\n", cfg.History.Samples)
	fmt.Fprintf(w, "export.format:            %s\n", cfg.Export.Format)
	fmt.Fprintf(w, "cache.enabled:            %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "cache.path:               %s\n", cfg.Cache.Path)
	fmt.Fprintf(w, "manifest.enabled:         %t\n", cfg.Manifest.Enabled)
	fmt.Fprintf(w, "manifest.path:            %s\n", cfg.Manifest.Path)
	fmt.Fprintf(w, "manifest.retention:       %d days\n", cfg.Manifest.RetentionDays)
	fmt.Fprintf(w, "logging.level:            %s\n", cfg.Logging.Level)

	fmt.Fprintln(w, "\nEnvironment Overrides:")
	fmt.Fprintln(w, "----------------------")
	envVars := []string{
		config.APIKeyEnv,
		config.EntityEnv,
		config.BaseURLEnv,
		config.EnvPrefix + "_API_KEY",
		config.EnvPrefix + "_API_ENTITY",
		config.EnvPrefix + "_API_BASE_URL",
		config.EnvPrefix + "_HISTORY_SAMPLES",
		config.EnvPrefix + "_EXPORT_FORMAT",
		config.EnvPrefix + "_CACHE_ENABLED",
		config.EnvPrefix + "_MANIFEST_ENABLED",
	}

	anyOverrides := false
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			if name == config.APIKeyEnv || name == config.EnvPrefix+"_API_KEY" {
				val = maskKey(val)
			}
			fmt.Fprintf(w, "%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Fprintln(w, "(none)")
	}

	return nil
}

// maskKey hides all but the last four characters of an API key.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 4:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return fmt.Errorf("failed to get config file path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'sweepcollect config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return fmt.Errorf("failed to get config file path: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
