// Package config loads layered configuration: hardcoded defaults, the user
// config file, the project config file, then BIBLIOMCP_* environment
// variables, each layer overriding the one below.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bibliomcp/bibliomcp/internal/search"
)

// Config represents the complete configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Backends   BackendsConfig   `yaml:"backends" json:"backends"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SearchConfig tunes fusion, quality estimation, and refinement.
// Tunable via:
//  1. User config (~/.config/bibliomcp/config.yaml) - personal defaults
//  2. Project config (.bibliomcp.yaml) - per-library tuning
//  3. Env vars (BIBLIOMCP_RRF_CONSTANT, ...) - highest priority
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter (k) for cross-backend
	// fusion. k=60 is the industry standard (Azure AI Search, OpenSearch).
	// Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// SubQueryRRFConstant is the smoothing parameter for the second fusion
	// level used by decomposed searches.
	SubQueryRRFConstant int `yaml:"sub_query_rrf_constant" json:"sub_query_rrf_constant"`

	// ConsensusBoost is the per-extra-sub-query multiplier for items
	// surfaced by several sub-queries. 0 disables boosting.
	ConsensusBoost float64 `yaml:"consensus_boost" json:"consensus_boost"`

	// Weights holds per-backend fusion weights (default 1.0 each).
	Weights map[string]float64 `yaml:"weights" json:"weights"`

	// DefaultLimit is the result limit applied when a caller omits one.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit caps the caller-requested result limit.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// MinResults is the result count below which confidence is low.
	MinResults int `yaml:"min_results" json:"min_results"`

	// QualityFloor is the top-score threshold for high confidence.
	// 0 derives 1/(k+1) from the RRF constant.
	QualityFloor float64 `yaml:"quality_floor" json:"quality_floor"`

	// HighCoverage and LowCoverage are the confidence thresholds on the
	// fraction of backends that returned results.
	HighCoverage float64 `yaml:"high_coverage" json:"high_coverage"`
	LowCoverage  float64 `yaml:"low_coverage" json:"low_coverage"`

	// MaxAttempts bounds the refinement loop.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Timeout is the per-call wall-clock budget (e.g. "10s").
	Timeout string `yaml:"timeout" json:"timeout"`

	// MinSubQueryDeadline floors a sub-query's deadline share (e.g. "150ms").
	MinSubQueryDeadline string `yaml:"min_sub_query_deadline" json:"min_sub_query_deadline"`

	// MaxSubQueries caps decomposition fan-out.
	MaxSubQueries int `yaml:"max_sub_queries" json:"max_sub_queries"`

	// Parallelism bounds concurrent backend calls per round.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// BackendsConfig enables and locates the search backends.
type BackendsConfig struct {
	Keyword  KeywordBackendConfig  `yaml:"keyword" json:"keyword"`
	Metadata MetadataBackendConfig `yaml:"metadata" json:"metadata"`
	Vector   VectorBackendConfig   `yaml:"vector" json:"vector"`
	Graph    GraphBackendConfig    `yaml:"graph" json:"graph"`
}

// KeywordBackendConfig configures the Bleve full-text backend.
type KeywordBackendConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"` // empty = in-memory
}

// MetadataBackendConfig configures the SQLite FTS5 metadata backend.
type MetadataBackendConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"` // empty = in-memory
}

// VectorBackendConfig configures the HNSW vector backend.
type VectorBackendConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// GraphBackendConfig configures the external citation-graph backend.
type GraphBackendConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Timeout string `yaml:"timeout" json:"timeout"`
	APIKey  string `yaml:"api_key" json:"api_key"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama", "static", or empty for
	// auto-detection (Ollama when reachable, static otherwise).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			RRFConstant:         60,
			SubQueryRRFConstant: 60,
			ConsensusBoost:      0.1,
			DefaultLimit:        10,
			MaxLimit:            100,
			MinResults:          3,
			HighCoverage:        0.8,
			LowCoverage:         0.4,
			MaxAttempts:         3,
			Timeout:             "10s",
			MinSubQueryDeadline: "150ms",
			MaxSubQueries:       8,
			Parallelism:         4,
		},
		Backends: BackendsConfig{
			Keyword:  KeywordBackendConfig{Enabled: true},
			Metadata: MetadataBackendConfig{Enabled: true},
			Vector:   VectorBackendConfig{Enabled: true},
			Graph:    GraphBackendConfig{Timeout: "5s"},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "",
			Model:     "nomic-embed-text",
			BatchSize: 32,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bibliomcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "bibliomcp", "config.yaml")
	}
	return filepath.Join(home, ".config", "bibliomcp", "config.yaml")
}

// Load loads configuration from the given directory, applying layers in
// order of increasing precedence: defaults, user config, project config,
// environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromDir loads .bibliomcp.yaml (or .yml) from dir if present.
func (c *Config) loadFromDir(dir string) error {
	yamlPath := filepath.Join(dir, ".bibliomcp.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".bibliomcp.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.SubQueryRRFConstant != 0 {
		c.Search.SubQueryRRFConstant = other.Search.SubQueryRRFConstant
	}
	if other.Search.ConsensusBoost != 0 {
		c.Search.ConsensusBoost = other.Search.ConsensusBoost
	}
	if len(other.Search.Weights) > 0 {
		c.Search.Weights = other.Search.Weights
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.MinResults != 0 {
		c.Search.MinResults = other.Search.MinResults
	}
	if other.Search.QualityFloor != 0 {
		c.Search.QualityFloor = other.Search.QualityFloor
	}
	if other.Search.HighCoverage != 0 {
		c.Search.HighCoverage = other.Search.HighCoverage
	}
	if other.Search.LowCoverage != 0 {
		c.Search.LowCoverage = other.Search.LowCoverage
	}
	if other.Search.MaxAttempts != 0 {
		c.Search.MaxAttempts = other.Search.MaxAttempts
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}
	if other.Search.MinSubQueryDeadline != "" {
		c.Search.MinSubQueryDeadline = other.Search.MinSubQueryDeadline
	}
	if other.Search.MaxSubQueries != 0 {
		c.Search.MaxSubQueries = other.Search.MaxSubQueries
	}
	if other.Search.Parallelism != 0 {
		c.Search.Parallelism = other.Search.Parallelism
	}

	// Backend paths and the graph endpoint merge field-wise; Enabled flags
	// only merge when the section carries any other setting, since YAML
	// cannot distinguish "false" from "absent".
	if other.Backends.Keyword.Path != "" {
		c.Backends.Keyword = other.Backends.Keyword
	}
	if other.Backends.Metadata.Path != "" {
		c.Backends.Metadata = other.Backends.Metadata
	}
	if other.Backends.Graph.BaseURL != "" {
		enabled := other.Backends.Graph.Enabled
		timeout := c.Backends.Graph.Timeout
		if other.Backends.Graph.Timeout != "" {
			timeout = other.Backends.Graph.Timeout
		}
		c.Backends.Graph = GraphBackendConfig{
			Enabled: enabled,
			BaseURL: other.Backends.Graph.BaseURL,
			Timeout: timeout,
			APIKey:  other.Backends.Graph.APIKey,
		}
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies BIBLIOMCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BIBLIOMCP_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("BIBLIOMCP_CONSENSUS_BOOST"); v != "" {
		if b, err := strconv.ParseFloat(v, 64); err == nil && b >= 0 {
			c.Search.ConsensusBoost = b
		}
	}
	if v := os.Getenv("BIBLIOMCP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxAttempts = n
		}
	}
	if v := os.Getenv("BIBLIOMCP_SEARCH_TIMEOUT"); v != "" {
		c.Search.Timeout = v
	}
	if v := os.Getenv("BIBLIOMCP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("BIBLIOMCP_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("BIBLIOMCP_GRAPH_URL"); v != "" {
		c.Backends.Graph.BaseURL = v
		c.Backends.Graph.Enabled = true
	}
	if v := os.Getenv("BIBLIOMCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.SubQueryRRFConstant <= 0 {
		return fmt.Errorf("search.sub_query_rrf_constant must be positive, got %d", c.Search.SubQueryRRFConstant)
	}
	if c.Search.ConsensusBoost < 0 {
		return fmt.Errorf("search.consensus_boost must be non-negative, got %f", c.Search.ConsensusBoost)
	}
	if c.Search.LowCoverage < 0 || c.Search.LowCoverage > 1 {
		return fmt.Errorf("search.low_coverage must be between 0 and 1, got %f", c.Search.LowCoverage)
	}
	if c.Search.HighCoverage < 0 || c.Search.HighCoverage > 1 {
		return fmt.Errorf("search.high_coverage must be between 0 and 1, got %f", c.Search.HighCoverage)
	}
	if c.Search.LowCoverage > c.Search.HighCoverage {
		return fmt.Errorf("search.low_coverage (%f) must not exceed search.high_coverage (%f)",
			c.Search.LowCoverage, c.Search.HighCoverage)
	}
	if c.Search.MaxAttempts <= 0 {
		return fmt.Errorf("search.max_attempts must be positive, got %d", c.Search.MaxAttempts)
	}
	for name, w := range c.Search.Weights {
		if w <= 0 {
			return fmt.Errorf("search.weights.%s must be positive, got %f", name, w)
		}
	}
	if _, err := parseDuration(c.Search.Timeout, 0); err != nil {
		return fmt.Errorf("search.timeout: %w", err)
	}
	if _, err := parseDuration(c.Search.MinSubQueryDeadline, 0); err != nil {
		return fmt.Errorf("search.min_sub_query_deadline: %w", err)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if c.Backends.Graph.Enabled && c.Backends.Graph.BaseURL == "" {
		return fmt.Errorf("backends.graph.base_url is required when the graph backend is enabled")
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// ToSearchConfig converts the loaded configuration into the orchestration
// core's tuning knobs.
func (c *Config) ToSearchConfig() search.Config {
	sc := search.DefaultConfig()
	sc.RRFK = c.Search.RRFConstant
	sc.SubQueryRRFK = c.Search.SubQueryRRFConstant
	sc.ConsensusBoost = c.Search.ConsensusBoost
	sc.Weights = c.Search.Weights
	sc.MaxLimit = c.Search.MaxLimit
	sc.MinResults = c.Search.MinResults
	sc.QualityFloor = c.Search.QualityFloor
	sc.HighCoverage = c.Search.HighCoverage
	sc.LowCoverage = c.Search.LowCoverage
	sc.MaxAttempts = c.Search.MaxAttempts
	sc.MaxSubQueries = c.Search.MaxSubQueries
	sc.Parallelism = c.Search.Parallelism
	sc.SearchTimeout, _ = parseDuration(c.Search.Timeout, sc.SearchTimeout)
	sc.MinSubQueryDeadline, _ = parseDuration(c.Search.MinSubQueryDeadline, sc.MinSubQueryDeadline)
	return sc
}

// GraphTimeout returns the parsed graph request timeout.
func (c *Config) GraphTimeout() time.Duration {
	d, _ := parseDuration(c.Backends.Graph.Timeout, 5*time.Second)
	return d
}

// parseDuration parses a duration string, returning fallback for empty.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
