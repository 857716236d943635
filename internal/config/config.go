// Package config loads YAML configuration by environment with env var
// substitution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the searchcore API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Search    SearchConfig    `yaml:"search"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds the shared Redis store settings. An empty address list
// disables the shared cache tier and the remote vector index: the service
// then runs entirely on in-process fallbacks.
type StoreConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a shared store is configured.
func (c StoreConfig) Enabled() bool { return len(c.Addrs) > 0 }

// EmbeddingConfig holds embedding provider settings. An empty API key
// disables semantic retrieval: every search degrades to keyword.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// Enabled reports whether an embedding provider is configured.
func (c EmbeddingConfig) Enabled() bool { return c.APIKey != "" }

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	Alpha           float64 `yaml:"alpha"` // semantic weight in hybrid fusion
	EmbedTimeoutMS  int     `yaml:"embed_timeout_ms"`
	DefaultPageSize int     `yaml:"default_page_size"`
	MaxPageSize     int     `yaml:"max_page_size"`
}

// RankingConfig holds score fusion settings. Weights should sum to 1.
type RankingConfig struct {
	RetrievalWeight float64 `yaml:"retrieval_weight"`
	RecencyWeight   float64 `yaml:"recency_weight"`
	QualityWeight   float64 `yaml:"quality_weight"`
	TitleWeight     float64 `yaml:"title_weight"`
	HalfLifeHours   int     `yaml:"half_life_hours"`
}

// CacheConfig holds tiered cache settings.
type CacheConfig struct {
	Disabled        bool `yaml:"disabled"`
	Capacity        int  `yaml:"capacity"`
	SearchTTLSec    int  `yaml:"search_ttl_sec"`
	FacetsTTLSec    int  `yaml:"facets_ttl_sec"`
	SuggestTTLSec   int  `yaml:"suggest_ttl_sec"`
	PopularTTLSec   int  `yaml:"popular_ttl_sec"`
	SharedTimeoutMS int  `yaml:"shared_timeout_ms"`
	WarmWorkers     int  `yaml:"warm_workers"`
	WarmTimeoutSec  int  `yaml:"warm_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "searchcore:"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Search.Alpha <= 0 || c.Search.Alpha > 1 {
		c.Search.Alpha = 0.7
	}
	if c.Search.EmbedTimeoutMS <= 0 {
		c.Search.EmbedTimeoutMS = 3000
	}
	if c.Search.DefaultPageSize <= 0 {
		c.Search.DefaultPageSize = 20
	}
	if c.Search.MaxPageSize <= 0 {
		c.Search.MaxPageSize = 100
	}
	if c.Ranking.RetrievalWeight == 0 && c.Ranking.RecencyWeight == 0 &&
		c.Ranking.QualityWeight == 0 && c.Ranking.TitleWeight == 0 {
		c.Ranking.RetrievalWeight = 0.5
		c.Ranking.RecencyWeight = 0.2
		c.Ranking.QualityWeight = 0.2
		c.Ranking.TitleWeight = 0.1
	}
	if c.Ranking.HalfLifeHours <= 0 {
		c.Ranking.HalfLifeHours = 72
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1024
	}
	if c.Cache.SearchTTLSec <= 0 {
		c.Cache.SearchTTLSec = int((5 * time.Minute).Seconds())
	}
	if c.Cache.FacetsTTLSec <= 0 {
		c.Cache.FacetsTTLSec = int((30 * time.Minute).Seconds())
	}
	if c.Cache.SuggestTTLSec <= 0 {
		c.Cache.SuggestTTLSec = int((60 * time.Minute).Seconds())
	}
	if c.Cache.PopularTTLSec <= 0 {
		c.Cache.PopularTTLSec = int((30 * time.Minute).Seconds())
	}
	if c.Cache.SharedTimeoutMS <= 0 {
		c.Cache.SharedTimeoutMS = 150
	}
	if c.Cache.WarmWorkers <= 0 {
		c.Cache.WarmWorkers = 4
	}
	if c.Cache.WarmTimeoutSec <= 0 {
		c.Cache.WarmTimeoutSec = 2
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	sum := c.Ranking.RetrievalWeight + c.Ranking.RecencyWeight +
		c.Ranking.QualityWeight + c.Ranking.TitleWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("ranking weights must sum to 1, got %g", sum)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
