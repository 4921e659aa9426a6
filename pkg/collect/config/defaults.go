// Package config provides configuration management for sweepcollect.
package config

import "time"

// Default configuration values.
const (
	// DefaultBaseURL is the tracking service API endpoint.
	DefaultBaseURL = "https://api.wandb.ai"

	// DefaultTimeout bounds each request to the tracking service.
	DefaultTimeout = 60 * time.Second

	// DefaultPageSize is how many runs are requested per page.
	DefaultPageSize = 50

	// DefaultSamples is how many history steps are requested per run.
	DefaultSamples = 500

	// DefaultFormat is the export format for output files.
	DefaultFormat = "csv"

	// DefaultRetentionDays is how long collection history entries are kept.
	DefaultRetentionDays = 90

	// EnvPrefix prefixes every environment override (SWEEPCOLLECT_API_TIMEOUT).
	EnvPrefix = "SWEEPCOLLECT"

	// APIKeyEnv is the conventional environment variable holding the API key.
	APIKeyEnv = "WANDB_API_KEY"

	// EntityEnv is the conventional environment variable holding the default entity.
	EntityEnv = "WANDB_ENTITY"

	// BaseURLEnv is the conventional environment variable overriding the API endpoint.
	BaseURLEnv = "WANDB_BASE_URL"
)
