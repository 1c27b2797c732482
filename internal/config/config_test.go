package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearBRVEnv isolates the test from the host environment. t.Setenv
// registers restoration before the variable is dropped.
func clearBRVEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "BRV_") {
			continue
		}
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8480, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.License.Timeout)
	assert.Equal(t, 3, cfg.License.RetryCount)
	assert.Equal(t, 8*time.Second, cfg.License.IdempotentWindow)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.LockBudget)
	assert.Equal(t, 24*time.Hour, cfg.Gate.ExpiryTolerance)
	assert.True(t, cfg.Gate.Enabled)
	assert.Contains(t, cfg.Gate.AllowedPrefixes, "/api/license")
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultStateFileName, cfg.Paths.StateFile)

	require.NoError(t, cfg.Validate())
}

func TestLoadLayering(t *testing.T) {
	clearBRVEnv(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "brvlicense.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
license:
  base_url: https://file.example.com
  api_key: ck_from_file
server:
  port: 9000
logging:
  level: warn
`), 0o600))
	t.Setenv("BRV_CONFIG_FILE", file)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "https://file.example.com", cfg.License.BaseURL)
		assert.Equal(t, "ck_from_file", cfg.License.APIKey)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "untouched fields keep defaults")
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("BRV_LICENSE_BASE_URL", "https://env.example.com")
		t.Setenv("BRV_SERVER_PORT", "9100")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", cfg.License.BaseURL)
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, "ck_from_file", cfg.License.APIKey, "file values survive where env is silent")
	})
}

func TestLoadWithoutFile(t *testing.T) {
	clearBRVEnv(t)
	t.Setenv("BRV_CONFIG_FILE", "")
	os.Unsetenv("BRV_CONFIG_FILE")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	t.Setenv("BRV_LICENSE_BASE_URL", "https://env-only.example.com")
	t.Setenv("BRV_LICENSE_API_KEY", " ck_padded ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env-only.example.com", cfg.License.BaseURL)
	assert.Equal(t, "ck_padded", cfg.License.APIKey, "credentials are trimmed")
}

func TestLoadFileMissing(t *testing.T) {
	clearBRVEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	clearBRVEnv(t)
	file := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("license: ["), 0o600))

	_, err := LoadFile(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "config validation failed",
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = 0 },
			wantErr: "config validation failed",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "config validation failed",
		},
		{
			name:    "malformed base url",
			mutate:  func(c *Config) { c.License.BaseURL = "not a url" },
			wantErr: "config validation failed",
		},
		{
			name:    "plain http without opt-in",
			mutate:  func(c *Config) { c.License.BaseURL = "http://internal.example.com" },
			wantErr: "allow_insecure_http",
		},
		{
			name: "plain http with opt-in",
			mutate: func(c *Config) {
				c.License.BaseURL = "http://internal.example.com"
				c.License.AllowInsecureHTTP = true
			},
		},
		{
			name:   "empty base url allowed",
			mutate: func(c *Config) { c.License.BaseURL = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
