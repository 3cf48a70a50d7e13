package librarian

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
dispatch_timeout: 10s
circuit_breaker:
  failure_threshold: 3
  success_threshold: 1
  timeout: 45s
rate_limit:
  requests_per_second: 50
  burst: 100
plugins:
  - name: query-logger
    stage: after_request
    enabled: true
    config:
      level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10s", cfg.DispatchTimeout)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	require.NotNil(t, cfg.RateLimit)
	assert.Equal(t, 50.0, cfg.RateLimit.RequestsPerSecond)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "query-logger", cfg.Plugins[0].Name)
	assert.Equal(t, "debug", cfg.Plugins[0].Config["level"])
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "dispatch_timeout": "5s",
  "plugins": [
    {"name": "search-cache", "stage": "before_request", "enabled": true}
  ]
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.DispatchTimeout)
	require.Len(t, cfg.Plugins, 1)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.yaml", "dispach_timeout: 10s\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLoadConfigRejectsBadStage(t *testing.T) {
	path := writeFile(t, "config.yaml", `
plugins:
  - name: query-logger
    stage: sideways
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadTypes(t *testing.T) {
	path := writeFile(t, "config.json", `{"rate_limit": {"requests_per_second": "fast"}}`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "config.toml", "dispatch_timeout = '10s'")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.NoError(t, ValidateConfig(Config{DispatchTimeout: "30s"}))

	assert.Error(t, ValidateConfig(Config{DispatchTimeout: "soon"}))
	assert.Error(t, ValidateConfig(Config{DispatchTimeout: "-5s"}))
	assert.Error(t, ValidateConfig(Config{
		CircuitBreaker: &CircuitBreakerConfig{Timeout: "whenever"},
	}))
	assert.Error(t, ValidateConfig(Config{
		RateLimit: &RateLimitConfig{RequestsPerSecond: 0},
	}))
	assert.Error(t, ValidateConfig(Config{
		Plugins: []PluginConfig{{Name: "query-logger", Stage: "sideways"}},
	}))
	assert.Error(t, ValidateConfig(Config{
		Plugins: []PluginConfig{{Stage: "before_request"}},
	}))
}
