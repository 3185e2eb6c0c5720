package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/photo-grouper/internal/grouping"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Grouping  GroupingConfig  `yaml:"grouping"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Processor ProcessorConfig `yaml:"processor"`
	Database  DatabaseConfig  `yaml:"database"`
	Web       WebConfig       `yaml:"web"`
}

type GroupingConfig struct {
	TimeThreshold       time.Duration `yaml:"time_threshold"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	DateTimeKey         string        `yaml:"datetime_key"`
	Workers             int           `yaml:"workers"` // 0 = GOMAXPROCS
}

// Options converts the grouping section into grouper options.
func (c *GroupingConfig) Options() grouping.Options {
	return grouping.Options{
		TimeThreshold:       c.TimeThreshold,
		SimilarityThreshold: c.SimilarityThreshold,
		DateTimeKey:         c.DateTimeKey,
		Workers:             c.Workers,
	}
}

type EmbeddingConfig struct {
	URL     string `yaml:"url"`      // defaults to http://localhost:8000
	MaxSize int    `yaml:"max_size"` // longest image edge sent to the encoder
	Model   string `yaml:"model"`    // label stored with cached embeddings
}

type ProcessorConfig struct {
	Extension   string `yaml:"extension"`
	Normalise   string `yaml:"normalise"` // minmax, standard or none
	SortBy      string `yaml:"sort_by"`
	Concurrency int    `yaml:"concurrency"`
}

type DatabaseConfig struct {
	URL          string `yaml:"-"` // PostgreSQL connection URL, optional
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type WebConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"-"` // from WEB_ALLOWED_ORIGINS, comma-separated
	MaxRecords     int      `yaml:"max_records"`
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var items []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float environment variable, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads a non-negative Go duration ("90s", "10m"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults Config
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Grouping: GroupingConfig{
			TimeThreshold:       envDuration("GROUPING_TIME_THRESHOLD", defaults.Grouping.TimeThreshold),
			SimilarityThreshold: envFloat("GROUPING_SIMILARITY_THRESHOLD", defaults.Grouping.SimilarityThreshold),
			DateTimeKey:         envString("GROUPING_DATETIME_KEY", defaults.Grouping.DateTimeKey),
			Workers:             envInt("GROUPING_WORKERS", defaults.Grouping.Workers),
		},
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", defaults.Embedding.URL),
			MaxSize: envInt("EMBEDDING_MAX_SIZE", defaults.Embedding.MaxSize),
			Model:   envString("EMBEDDING_MODEL", defaults.Embedding.Model),
		},
		Processor: ProcessorConfig{
			Extension:   envString("PROCESSOR_EXTENSION", defaults.Processor.Extension),
			Normalise:   envString("PROCESSOR_NORMALISE", defaults.Processor.Normalise),
			SortBy:      envString("PROCESSOR_SORT_BY", defaults.Processor.SortBy),
			Concurrency: envInt("PROCESSOR_CONCURRENCY", defaults.Processor.Concurrency),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", defaults.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", defaults.Database.MaxIdleConns),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", defaults.Web.Port),
			Host:           envString("WEB_HOST", defaults.Web.Host),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			MaxRecords:     envInt("WEB_MAX_RECORDS", defaults.Web.MaxRecords),
		},
	}
}
