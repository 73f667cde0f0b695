package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9000"
  request_timeout: 5s
upstream:
  base_url: https://api.example.com
  max_retries: 1
cache:
  ttl: 2m
storage:
  use_memory: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://api.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "https://api.binance.com", cfg.Upstream.KlineURL)
	assert.Equal(t, 1, cfg.Upstream.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "@every 5m", cfg.Cache.ChartSchedule)
	assert.Equal(t, "@every 60s", cfg.Cache.HistorySchedule)
	assert.True(t, cfg.Storage.UseMemory)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Stream.Enabled)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "upstream:\n  base_url: https://file.example.com\n")
	t.Setenv("CHART_API_BASE_URL", "https://env.example.com")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("KLINE_WS_ENDPOINT", "wss://stream.example.com/ws")
	t.Setenv("USE_MEMORY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Stream.Enabled)
	assert.Equal(t, "wss://stream.example.com/ws", cfg.Stream.Endpoint)
	assert.True(t, cfg.Storage.UseMemory)
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	path := writeFile(t, ".env", "CHART_TEST_KEEP=file\nCHART_TEST_NEW=file\n")
	t.Setenv("CHART_TEST_KEEP", "env")
	t.Setenv("CHART_TEST_NEW", "")
	os.Unsetenv("CHART_TEST_NEW")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "env", os.Getenv("CHART_TEST_KEEP"))
	assert.Equal(t, "file", os.Getenv("CHART_TEST_NEW"))
}

func TestLoadEnvFile_MissingIgnored(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Upstream.BaseURL = "https://api.example.com"
		cfg.Storage.UseMemory = true
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"base url scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://api.example.com" }},
		{"stream scheme", func(c *Config) {
			c.Stream.Enabled = true
			c.Stream.Endpoint = "https://stream.example.com"
		}},
		{"negative retries", func(c *Config) { c.Upstream.MaxRetries = -1 }},
		{"bad schedule", func(c *Config) { c.Cache.ChartSchedule = "every five minutes" }},
		{"missing dsn", func(c *Config) { c.Storage.UseMemory = false }},
		{"zero last viewed", func(c *Config) { c.LastViewed.MaxEntries = -1 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
