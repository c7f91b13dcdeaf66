package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps the user config layer and env overrides out of tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range []string{
		"BIBLIOMCP_RRF_CONSTANT",
		"BIBLIOMCP_CONSENSUS_BOOST",
		"BIBLIOMCP_MAX_ATTEMPTS",
		"BIBLIOMCP_SEARCH_TIMEOUT",
		"BIBLIOMCP_OLLAMA_HOST",
		"BIBLIOMCP_EMBEDDINGS_PROVIDER",
		"BIBLIOMCP_GRAPH_URL",
		"BIBLIOMCP_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 60, cfg.Search.SubQueryRRFConstant)
	assert.InDelta(t, 0.1, cfg.Search.ConsensusBoost, 1e-9)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Equal(t, 3, cfg.Search.MaxAttempts)
	assert.Equal(t, "10s", cfg.Search.Timeout)
	assert.Equal(t, 8, cfg.Search.MaxSubQueries)

	assert.True(t, cfg.Backends.Keyword.Enabled)
	assert.True(t, cfg.Backends.Metadata.Enabled)
	assert.True(t, cfg.Backends.Vector.Enabled)
	assert.False(t, cfg.Backends.Graph.Enabled)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestLoad_ProjectConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	project := `
search:
  rrf_constant: 90
  consensus_boost: 0.25
  weights:
    vector: 2.0
backends:
  graph:
    enabled: true
    base_url: http://graph.local:7474
    api_key: sekrit
server:
  log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bibliomcp.yaml"), []byte(project), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.InDelta(t, 0.25, cfg.Search.ConsensusBoost, 1e-9)
	assert.Equal(t, map[string]float64{"vector": 2.0}, cfg.Search.Weights)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.Search.DefaultLimit)

	assert.True(t, cfg.Backends.Graph.Enabled)
	assert.Equal(t, "http://graph.local:7474", cfg.Backends.Graph.BaseURL)
	assert.Equal(t, "sekrit", cfg.Backends.Graph.APIKey)
	assert.Equal(t, "5s", cfg.Backends.Graph.Timeout)

	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_UserThenProjectPrecedence(t *testing.T) {
	isolate(t)

	xdg := os.Getenv("XDG_CONFIG_HOME")
	userDir := filepath.Join(xdg, "bibliomcp")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(`
search:
  rrf_constant: 30
  max_attempts: 5
`), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bibliomcp.yaml"), []byte(`
search:
  rrf_constant: 90
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	// Project overrides user; user overrides defaults.
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, 5, cfg.Search.MaxAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BIBLIOMCP_RRF_CONSTANT", "45")
	t.Setenv("BIBLIOMCP_MAX_ATTEMPTS", "7")
	t.Setenv("BIBLIOMCP_SEARCH_TIMEOUT", "3s")
	t.Setenv("BIBLIOMCP_GRAPH_URL", "http://env-graph:7474")
	t.Setenv("BIBLIOMCP_EMBEDDINGS_PROVIDER", "static")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Search.RRFConstant)
	assert.Equal(t, 7, cfg.Search.MaxAttempts)
	assert.Equal(t, "3s", cfg.Search.Timeout)
	assert.True(t, cfg.Backends.Graph.Enabled)
	assert.Equal(t, "http://env-graph:7474", cfg.Backends.Graph.BaseURL)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_EnvIgnoresInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("BIBLIOMCP_RRF_CONSTANT", "not-a-number")
	t.Setenv("BIBLIOMCP_MAX_ATTEMPTS", "-2")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 3, cfg.Search.MaxAttempts)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bibliomcp.yaml"), []byte("search: [not a map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rrf constant", func(c *Config) { c.Search.RRFConstant = 0 }},
		{"negative consensus boost", func(c *Config) { c.Search.ConsensusBoost = -0.5 }},
		{"coverage out of range", func(c *Config) { c.Search.HighCoverage = 1.5 }},
		{"low above high", func(c *Config) { c.Search.LowCoverage = 0.9; c.Search.HighCoverage = 0.5 }},
		{"zero max attempts", func(c *Config) { c.Search.MaxAttempts = 0 }},
		{"non-positive weight", func(c *Config) { c.Search.Weights = map[string]float64{"vector": 0} }},
		{"bad timeout", func(c *Config) { c.Search.Timeout = "ten seconds" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"graph enabled without url", func(c *Config) { c.Backends.Graph.Enabled = true }},
		{"unknown transport", func(c *Config) { c.Server.Transport = "http" }},
		{"unknown log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, NewConfig().Validate())
}

func TestToSearchConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.RRFConstant = 42
	cfg.Search.Timeout = "7s"
	cfg.Search.MinSubQueryDeadline = "200ms"
	cfg.Search.Weights = map[string]float64{"keyword": 1.5}

	sc := cfg.ToSearchConfig()
	assert.Equal(t, 42, sc.RRFK)
	assert.Equal(t, 7*time.Second, sc.SearchTimeout)
	assert.Equal(t, 200*time.Millisecond, sc.MinSubQueryDeadline)
	assert.Equal(t, map[string]float64{"keyword": 1.5}, sc.Weights)
	assert.Equal(t, cfg.Search.MaxAttempts, sc.MaxAttempts)
}

func TestGraphTimeout(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 5*time.Second, cfg.GraphTimeout())

	cfg.Backends.Graph.Timeout = "2s"
	assert.Equal(t, 2*time.Second, cfg.GraphTimeout())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".bibliomcp.yaml")

	cfg := NewConfig()
	cfg.Search.RRFConstant = 77
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 77, loaded.Search.RRFConstant)
}
