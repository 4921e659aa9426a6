package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and XDG_CONFIG_HOME at a fresh directory and clears
// the tracking service variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv(APIKeyEnv, "")
	t.Setenv(EntityEnv, "")
	t.Setenv(BaseURLEnv, "")
	t.Setenv("SWEEPCOLLECT_API_KEY", "")
	t.Setenv("SWEEPCOLLECT_API_ENTITY", "")
	t.Setenv("SWEEPCOLLECT_API_BASE_URL", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Empty(t, cfg.API.Key)
	assert.Equal(t, DefaultTimeout, cfg.API.Timeout)
	assert.Equal(t, DefaultPageSize, cfg.API.PageSize)
	assert.Equal(t, DefaultSamples, cfg.History.Samples)
	assert.Equal(t, DefaultFormat, cfg.Export.Format)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, DefaultCachePath(), cfg.Cache.Path)
	assert.True(t, cfg.Manifest.Enabled)
	assert.Equal(t, DefaultManifestDir(), cfg.Manifest.Path)
	assert.Equal(t, DefaultRetentionDays, cfg.Manifest.RetentionDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "10MiB", cfg.Logging.Rotation.MaxSize)
	assert.Equal(t, "info", cfg.Logging.Components["collector"])
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	configDir := filepath.Join(home, ".config", "sweepcollect")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
api:
  base_url: http://localhost:8080/
  key: from-file
  entity: lab
  timeout: 5s
  page_size: 10
history:
  samples: 20
export:
  format: json
cache:
  enabled: true
  path: ~/histories
manifest:
  enabled: false
  retention_days: 7
logging:
  level: debug
  components:
    client: warn
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "from-file", cfg.API.Key)
	assert.Equal(t, "lab", cfg.API.Entity)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 10, cfg.API.PageSize)
	assert.Equal(t, 20, cfg.History.Samples)
	assert.Equal(t, "json", cfg.Export.Format)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, filepath.Join(home, "histories"), cfg.Cache.Path)
	assert.False(t, cfg.Manifest.Enabled)
	assert.Equal(t, 7, cfg.Manifest.RetentionDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "warn", cfg.Logging.Components["client"])
}

func TestLoad_XDGConfigHome(t *testing.T) {
	isolate(t)
	xdgHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgHome)

	dir := filepath.Join(xdgHome, "sweepcollect")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("history:\n  samples: 42\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.History.Samples)
}

func TestLoad_InvalidFile(t *testing.T) {
	home := isolate(t)
	configDir := filepath.Join(home, ".config", "sweepcollect")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("api: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv(APIKeyEnv, "wandb-key")
	t.Setenv(EntityEnv, "team")
	t.Setenv("SWEEPCOLLECT_HISTORY_SAMPLES", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wandb-key", cfg.API.Key)
	assert.Equal(t, "team", cfg.API.Entity)
	assert.Equal(t, 7, cfg.History.Samples)
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	isolate(t)
	t.Setenv(APIKeyEnv, "wandb-key")
	t.Setenv("SWEEPCOLLECT_API_KEY", "own-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "own-key", cfg.API.Key)
}

func TestDecode_FillsInvalidValues(t *testing.T) {
	isolate(t)
	v := viper.New()
	SetDefaults(v)
	v.Set("api.timeout", 0)
	v.Set("api.page_size", -1)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.API.Timeout)
	assert.Equal(t, DefaultPageSize, cfg.API.PageSize)
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "sweepcollect", "config.yaml"), path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSamples, cfg.History.Samples)
	assert.Equal(t, DefaultFormat, cfg.Export.Format)

	// A second call keeps the existing file.
	require.NoError(t, os.WriteFile(path, []byte("history:\n  samples: 3\n"), 0o600))
	again, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, path, again)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "history:\n  samples: 3\n", string(data))
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "/abs/path", want: "/abs/path"},
		{in: "relative", want: "relative"},
		{in: "~", want: home},
		{in: "~/data", want: filepath.Join(home, "data")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigDir(t *testing.T) {
	home := isolate(t)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "sweepcollect"), dir)

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	dir, err = ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "sweepcollect"), dir)
}
