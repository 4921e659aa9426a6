package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const appName = "sweepcollect"

// APIConfig configures access to the tracking service.
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Key      string        `mapstructure:"key"`
	Entity   string        `mapstructure:"entity"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

// HistoryConfig configures history retrieval.
type HistoryConfig struct {
	Samples int `mapstructure:"samples"`
}

// ExportConfig configures output files.
type ExportConfig struct {
	Format   string `mapstructure:"format"`
	Template string `mapstructure:"template"`
}

// CacheConfig configures the run history cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ManifestConfig configures the collection history.
type ManifestConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// Config represents the application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	History  HistoryConfig  `mapstructure:"history"`
	Export   ExportConfig   `mapstructure:"export"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SetDefaults registers defaults and environment bindings on v.
// The API key and entity also honor the tracking service's own
// WANDB_API_KEY and WANDB_ENTITY variables.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.key", "")
	v.SetDefault("api.entity", "")
	v.SetDefault("api.timeout", DefaultTimeout)
	v.SetDefault("api.page_size", DefaultPageSize)
	_ = v.BindEnv("api.key", EnvPrefix+"_API_KEY", APIKeyEnv)
	_ = v.BindEnv("api.entity", EnvPrefix+"_API_ENTITY", EntityEnv)
	_ = v.BindEnv("api.base_url", EnvPrefix+"_API_BASE_URL", BaseURLEnv)

	v.SetDefault("history.samples", DefaultSamples)

	v.SetDefault("export.format", DefaultFormat)
	v.SetDefault("export.template", "")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "")

	v.SetDefault("manifest.enabled", true)
	v.SetDefault("manifest.path", "")
	v.SetDefault("manifest.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"client":    "info",
		"collector": "info",
		"output":    "info",
		"cache":     "info",
	})
}

// AddConfigPaths points v at the standard config file locations:
//   - $XDG_CONFIG_HOME/sweepcollect/config.yaml
//   - $HOME/.config/sweepcollect/config.yaml
func AddConfigPaths(v *viper.Viper) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, appName))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", appName))
	}
}

// Load loads configuration from the config file and environment.
// A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	AddConfigPaths(v)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals the settings held by v into a Config, expanding ~ in
// paths and filling derived defaults.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var err error
	if cfg.Cache.Path, err = ExpandPath(cfg.Cache.Path); err != nil {
		return nil, err
	}
	if cfg.Manifest.Path, err = ExpandPath(cfg.Manifest.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath()
	}
	if cfg.Manifest.Path == "" {
		cfg.Manifest.Path = DefaultManifestDir()
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.API.PageSize <= 0 {
		cfg.API.PageSize = DefaultPageSize
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	return &cfg, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// ConfigFile returns the path of the default config file.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a commented default config file if none exists and
// returns its path.
func WriteDefault() (string, error) {
	path, err := ConfigFile()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# sweepcollect configuration

api:
  # Tracking service endpoint (WANDB_BASE_URL also works)
  base_url: %s
  # API key; leave empty to use WANDB_API_KEY
  key: ""
  # Default entity for project ids without one (WANDB_ENTITY also works)
  entity: ""
  timeout: %s
  page_size: %d

history:
  # History steps requested per run
  samples: %d

export:
  # csv, tsv, json, jsonl, yaml, markdown, plain, template
  format: %s
  template: ""

cache:
  # Keep histories of finished runs between invocations
  enabled: false
  path: %q

manifest:
  enabled: true
  path: %q
  retention_days: %d

logging:
  level: info
  # Empty means $XDG_STATE_HOME/sweepcollect/sweepcollect.log
  path: ""
  rotation:
    max_size: 10MiB
    max_age: 30
    max_backups: 5
    daily: true
  components:
    client: info
    collector: info
    output: info
    cache: info
`, DefaultBaseURL, DefaultTimeout, DefaultPageSize, DefaultSamples, DefaultFormat,
		DefaultCachePath(), DefaultManifestDir(), DefaultRetentionDays)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/sweepcollect.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// CacheDir returns $XDG_CACHE_HOME/sweepcollect.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// DefaultCachePath returns the badger directory for cached run histories.
func DefaultCachePath() string {
	return filepath.Join(CacheDir(), "histories")
}

// DefaultManifestDir returns the directory for collection history entries.
func DefaultManifestDir() string {
	return filepath.Join(DataDir(), "manifest")
}
