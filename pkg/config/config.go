// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Index, Search, Cache, Semantic, Events, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Cache    CacheConfig    `yaml:"cache"`
	Semantic SemanticConfig `yaml:"semantic"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// IndexConfig locates the on-disk index and controls segment layout.
type IndexConfig struct {
	Dir         string `yaml:"dir"`
	BarrelCount uint32 `yaml:"barrelCount"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	MaxResults       int `yaml:"maxResults"`
	DefaultK         int `yaml:"defaultK"`
	MaxSuggestions   int `yaml:"maxSuggestions"`
	ParallelSegments int `yaml:"parallelSegments"`
}

// CacheConfig bounds the three LRU result caches and locates their
// persistence files.
type CacheConfig struct {
	Dir             string `yaml:"dir"`
	SearchEntries   int    `yaml:"searchEntries"`
	OverviewEntries int    `yaml:"overviewEntries"`
	SummaryEntries  int    `yaml:"summaryEntries"`
}

// SemanticConfig controls the optional word-embedding query expansion.
type SemanticConfig struct {
	EmbeddingsPath string  `yaml:"embeddingsPath"`
	PerTerm        int     `yaml:"perTerm"`
	GlobalTopK     int     `yaml:"globalTopK"`
	MinSimilarity  float32 `yaml:"minSimilarity"`
	Alpha          float32 `yaml:"alpha"`
	MaxTotalTerms  int     `yaml:"maxTotalTerms"`
}

// EventsConfig holds Kafka settings for the optional usage-event stream.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  25 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Index: IndexConfig{
			Dir:         "data/index",
			BarrelCount: 64,
		},
		Search: SearchConfig{
			MaxResults:       100,
			DefaultK:         10,
			MaxSuggestions:   10,
			ParallelSegments: 4,
		},
		Cache: CacheConfig{
			Dir:             ".",
			SearchEntries:   2600,
			OverviewEntries: 500,
			SummaryEntries:  1000,
		},
		Semantic: SemanticConfig{
			PerTerm:       3,
			GlobalTopK:    5,
			MinSimilarity: 0.55,
			Alpha:         0.6,
			MaxTotalTerms: 40,
		},
		Events: EventsConfig{
			Enabled: false,
			Topic:   "papersearch.usage",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate checks cross-field constraints that YAML parsing cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must not be empty")
	}
	if c.Index.BarrelCount == 0 {
		return fmt.Errorf("index.barrelCount must be at least 1")
	}
	if c.Cache.SearchEntries <= 0 || c.Cache.OverviewEntries <= 0 || c.Cache.SummaryEntries <= 0 {
		return fmt.Errorf("cache entry bounds must be positive")
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers must be set when events are enabled")
	}
	return nil
}

// applyEnvOverrides lets PAPERSEARCH_* environment variables override
// the most commonly tuned fields without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPERSEARCH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("PAPERSEARCH_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("PAPERSEARCH_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("PAPERSEARCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAPERSEARCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("EMBEDDINGS_PATH"); v != "" {
		cfg.Semantic.EmbeddingsPath = v
	}
	if v := os.Getenv("PAPERSEARCH_EVENTS_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
		cfg.Events.Enabled = true
	}
}
