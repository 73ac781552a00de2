package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the analyzer.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Rules     RulesConfig     `yaml:"rules"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
	MaxMessageBytes int           `yaml:"maxMessageBytes" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// AnalysisConfig tunes parsing, scoring, retrieval and prompt composition.
type AnalysisConfig struct {
	Timezone         string          `yaml:"timezone"`
	MinBatchSize     int             `yaml:"minBatchSize" validate:"gte=2"`
	AnomalyThreshold float64         `yaml:"anomalyThreshold" validate:"gt=0.5,lt=1"`
	Forest           ForestConfig    `yaml:"forest"`
	Health           HealthConfig    `yaml:"health"`
	Weights          SeverityWeights `yaml:"weights"`
	MaxQueries       int             `yaml:"maxQueries" validate:"gte=1,lte=20"`
	MaxResults       int             `yaml:"maxResults" validate:"gte=1,lte=50"`
	MinRelevance     float64         `yaml:"minRelevance" validate:"gte=0,lte=1"`
	MaxPromptChars   int             `yaml:"maxPromptChars" validate:"gte=1000"`
	MaxSampleLines   int             `yaml:"maxSampleLines" validate:"gte=1"`
	MaxFiles         int             `yaml:"maxFiles" validate:"gte=1"`
}

// ForestConfig controls the per-run isolation forest.
type ForestConfig struct {
	Trees      int   `yaml:"trees" validate:"gte=1"`
	SampleSize int   `yaml:"sampleSize" validate:"gte=2"`
	Seed       int64 `yaml:"seed"`
}

// HealthConfig holds the status thresholds applied to health scores.
type HealthConfig struct {
	HealthyThreshold  float64 `yaml:"healthyThreshold" validate:"gt=0,lte=100"`
	DegradedThreshold float64 `yaml:"degradedThreshold" validate:"gte=0,ltfield=HealthyThreshold"`
	BenignWeight      float64 `yaml:"benignWeight" validate:"gte=0,lte=1"`
}

// SeverityWeights scale each issue's contribution to the weighted issue rate.
type SeverityWeights struct {
	Critical float64 `yaml:"critical" validate:"gte=0"`
	High     float64 `yaml:"high" validate:"gte=0"`
	Medium   float64 `yaml:"medium" validate:"gte=0"`
	Low      float64 `yaml:"low" validate:"gte=0"`
}

// KnowledgeConfig points at the prebuilt knowledge corpus.
type KnowledgeConfig struct {
	CorpusPath string `yaml:"corpusPath"`
	Product    string `yaml:"product"`
}

// RulesConfig controls rule-pack loading; an empty path uses the embedded pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the hosted completion service.
type LLMConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"omitempty,url"`
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"maxTokens" validate:"gte=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL  time.Duration `yaml:"cacheTTL" validate:"gte=0"`
}

// CacheConfig controls the Redis-backed completion cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// EventsConfig configures optional progress and report publication.
type EventsConfig struct {
	NATSURL         string   `yaml:"natsURL"`
	ProgressSubject string   `yaml:"progressSubject"`
	KafkaBrokers    []string `yaml:"kafkaBrokers"`
	ReportTopic     string   `yaml:"reportTopic"`
}

// StorageConfig controls report history persistence.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver" validate:"omitempty,oneof=sqlite postgres postgresql"`
	DSN     string `yaml:"dsn"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DS_ANALYZER_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Analysis: AnalysisConfig{
			MinBatchSize:     2,
			AnomalyThreshold: 0.62,
			Forest: ForestConfig{
				Trees:      100,
				SampleSize: 256,
				Seed:       42,
			},
			Health: HealthConfig{
				HealthyThreshold:  90,
				DegradedThreshold: 60,
				BenignWeight:      0.25,
			},
			Weights: SeverityWeights{
				Critical: 3,
				High:     2,
				Medium:   1,
				Low:      0.5,
			},
			MaxQueries:     5,
			MaxResults:     6,
			MinRelevance:   0.15,
			MaxPromptChars: 24000,
			MaxSampleLines: 25,
			MaxFiles:       32,
		},
		Knowledge: KnowledgeConfig{Product: "Deep Security"},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
			Timeout:   60 * time.Second,
			CacheTTL:  30 * time.Minute,
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Events: EventsConfig{
			ProgressSubject: "ds-analyzer.progress",
			ReportTopic:     "ds-analyzer.reports",
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:ds-analyzer.db?_pragma=busy_timeout(5000)"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_ANALYZER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DS_ANALYZER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DS_ANALYZER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_ANALYZER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DS_ANALYZER_CORPUS_PATH"); v != "" {
		cfg.Knowledge.CorpusPath = v
	}
	if v := os.Getenv("DS_ANALYZER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("DS_ANALYZER_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("DS_ANALYZER_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DS_ANALYZER_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DS_ANALYZER_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("DS_ANALYZER_FOREST_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Analysis.Forest.Seed = seed
		}
	}
	if v := os.Getenv("DS_ANALYZER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("DS_ANALYZER_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("DS_ANALYZER_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("DS_ANALYZER_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("DS_ANALYZER_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("DS_ANALYZER_KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("DS_ANALYZER_STORAGE_ENABLED"); v != "" {
		cfg.Storage.Enabled = envBool(v)
	}
	if v := os.Getenv("DS_ANALYZER_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DS_ANALYZER_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
