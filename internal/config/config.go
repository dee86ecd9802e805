// Package config loads court settings from the environment, an optional
// .env file, and an optional YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/crisis"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/entropy"
	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
	"github.com/talgya/royal-intrigue/internal/persistence"
)

// Oracle providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// DialectNone disables the reign archive.
const DialectNone = "none"

// scriptedReply is what every advisor says when the scripted provider is selected.
const scriptedReply = "Your Majesty, the council trusts your judgement in this matter."

// Config holds everything the commands need to wire a court.
type Config struct {
	OracleProvider    string
	GoogleAPIKey      string
	AnthropicAPIKey   string
	OracleModel       string
	OracleTemperature float32
	OracleTimeout     time.Duration
	Concurrency       int

	Seed         int64
	RandomOrgKey string

	DBDialect   string
	SQLitePath  string
	PostgresDSN string

	Port     int
	AdminKey string
	LogLevel slog.Level

	// Regent settings.
	APIURL       string
	RegentReigns int
	RegentMemory string

	ConfigPath    string
	StartingStats kingdom.Stats
	Catalog       *crisis.Catalog
}

// fileConfig is the optional YAML document named by COURT_CONFIG.
type fileConfig struct {
	StartingStats map[string]int  `yaml:"starting_stats"`
	Crises        []crisis.Crisis `yaml:"crises"`
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{
		OracleProvider:  strings.ToLower(envOrDefault("ORACLE_PROVIDER", ProviderGemini)),
		GoogleAPIKey:    envOrDefault("GOOGLE_API_KEY", os.Getenv("GEMINI_API_KEY")),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OracleModel:     os.Getenv("ORACLE_MODEL"),
		Concurrency:     envIntOrDefault("CONSULT_CONCURRENCY", 3),
		RandomOrgKey:    os.Getenv("RANDOM_ORG_API_KEY"),
		DBDialect:       strings.ToLower(envOrDefault("DB_DIALECT", string(persistence.DialectSQLite))),
		SQLitePath:      envOrDefault("DB_SQLITE_PATH", "data/court.db"),
		PostgresDSN:     envOrDefault("DB_POSTGRES_DSN", os.Getenv("DATABASE_URL")),
		Port:            envIntOrDefault("COURT_PORT", 8080),
		AdminKey:        os.Getenv("COURT_ADMIN_KEY"),
		APIURL:          envOrDefault("COURT_API_URL", "http://localhost:8080"),
		RegentReigns:    envIntOrDefault("REGENT_REIGNS", 1),
		RegentMemory:    envOrDefault("REGENT_MEMORY", "regent_memory.json"),
		ConfigPath:      os.Getenv("COURT_CONFIG"),
		StartingStats:   kingdom.DefaultStartingStats,
	}

	var err error
	if c.OracleTemperature, err = envFloat32("ORACLE_TEMPERATURE", llm.DefaultTemperature); err != nil {
		return nil, err
	}
	if c.OracleTimeout, err = envDuration("ORACLE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.Seed, err = envInt64("COURT_SEED", 0); err != nil {
		return nil, err
	}
	if c.LogLevel, err = ParseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}

	switch c.OracleProvider {
	case ProviderGemini, ProviderAnthropic, ProviderScripted:
	default:
		return nil, fmt.Errorf("unsupported ORACLE_PROVIDER %q", c.OracleProvider)
	}
	switch c.DBDialect {
	case string(persistence.DialectSQLite), string(persistence.DialectPostgres), DialectNone:
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", c.DBDialect)
	}

	if c.ConfigPath != "" {
		if err := c.loadFile(c.ConfigPath); err != nil {
			return nil, err
		}
	}
	if c.Catalog == nil {
		c.Catalog = crisis.Default()
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(fc.StartingStats) > 0 {
		stats := kingdom.DefaultStartingStats
		for k, v := range fc.StartingStats {
			st, err := kingdom.ParseStat(k)
			if err != nil {
				return fmt.Errorf("config %s: starting_stats: %w", path, err)
			}
			stats.Set(st, v)
		}
		c.StartingStats = stats
	}
	if len(fc.Crises) > 0 {
		cat, err := crisis.NewCatalog(fc.Crises)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.Catalog = cat
	}
	slog.Info("config file loaded", "path", path, "crises", len(fc.Crises), "starting_stats", len(fc.StartingStats) > 0)
	return nil
}

// OracleConfigured reports whether the selected provider has credentials.
func (c *Config) OracleConfigured() bool {
	switch c.OracleProvider {
	case ProviderScripted:
		return true
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	default:
		return c.GoogleAPIKey != ""
	}
}

// BuildOracle returns the configured backend and a function releasing it.
// Missing credentials yield an oracle that always fails, so consultations
// record error markers instead of stalling.
func (c *Config) BuildOracle(ctx context.Context) (llm.Oracle, func() error, error) {
	noop := func() error { return nil }

	switch c.OracleProvider {
	case ProviderScripted:
		return llm.NewScripted(scriptedReply), noop, nil

	case ProviderAnthropic:
		client := llm.NewClient(c.AnthropicAPIKey, c.OracleModel)
		if client == nil {
			return llm.Unavailable{Backend: ProviderAnthropic}, noop, nil
		}
		return client, noop, nil

	default:
		g, err := llm.NewGemini(ctx, c.GoogleAPIKey, c.OracleModel)
		if errors.Is(err, llm.ErrNotConfigured) {
			return llm.Unavailable{Backend: ProviderGemini}, noop, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
}

// NewSource returns the randomness for the nth session. Seeded courts give
// every session its own deterministic stream.
func (c *Config) NewSource(n int) entropy.Source {
	if c.Seed != 0 {
		return entropy.NewSeeded(c.Seed + int64(n))
	}
	return entropy.New(0, c.RandomOrgKey)
}

// SessionOptions wires a session to the configured collaborators.
func (c *Config) SessionOptions(oracle llm.Oracle, rng entropy.Source) engine.Options {
	return engine.Options{
		Oracle:        oracle,
		Rand:          rng,
		Catalog:       c.Catalog,
		StartingStats: c.StartingStats,
		Council: council.Config{
			Temperature: c.OracleTemperature,
			Timeout:     c.OracleTimeout,
			Concurrency: c.Concurrency,
		},
	}
}

// OpenArchive opens the configured reign archive. It returns nil when the
// archive is disabled.
func (c *Config) OpenArchive() (*persistence.DB, error) {
	switch c.DBDialect {
	case DialectNone:
		return nil, nil
	case string(persistence.DialectPostgres):
		return persistence.Open(persistence.DialectPostgres, c.PostgresDSN)
	default:
		return persistence.Open(persistence.DialectSQLite, c.SQLitePath)
	}
}

// ParseLevel maps LOG_LEVEL onto a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat32(key string, defaultVal float32) (float32, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return float32(f), nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
