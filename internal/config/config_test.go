package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/royal-intrigue/internal/kingdom"
	"github.com/talgya/royal-intrigue/internal/llm"
)

var envKeys = []string{
	"ORACLE_PROVIDER", "GOOGLE_API_KEY", "GEMINI_API_KEY", "ANTHROPIC_API_KEY", "ORACLE_MODEL",
	"ORACLE_TEMPERATURE", "ORACLE_TIMEOUT", "CONSULT_CONCURRENCY", "COURT_SEED", "RANDOM_ORG_API_KEY",
	"DB_DIALECT", "DB_SQLITE_PATH", "DB_POSTGRES_DSN", "DATABASE_URL", "COURT_PORT", "COURT_ADMIN_KEY",
	"COURT_API_URL", "REGENT_REIGNS", "REGENT_MEMORY", "COURT_CONFIG", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, c.OracleProvider)
	assert.Equal(t, float32(llm.DefaultTemperature), c.OracleTemperature)
	assert.Equal(t, 30*time.Second, c.OracleTimeout)
	assert.Equal(t, 3, c.Concurrency)
	assert.Equal(t, "sqlite", c.DBDialect)
	assert.Equal(t, "data/court.db", c.SQLitePath)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.Equal(t, kingdom.DefaultStartingStats, c.StartingStats)
	assert.Equal(t, 9, c.Catalog.Len())
	assert.False(t, c.OracleConfigured())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORACLE_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ORACLE_TEMPERATURE", "0.3")
	t.Setenv("ORACLE_TIMEOUT", "5s")
	t.Setenv("COURT_SEED", "99")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_DIALECT", "none")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, c.OracleProvider)
	assert.True(t, c.OracleConfigured())
	assert.InDelta(t, 0.3, c.OracleTemperature, 1e-6)
	assert.Equal(t, 5*time.Second, c.OracleTimeout)
	assert.Equal(t, int64(99), c.Seed)
	assert.Equal(t, "g-key", c.GoogleAPIKey, "GEMINI_API_KEY is the fallback")
	assert.Equal(t, slog.LevelDebug, c.LogLevel)

	db, err := c.OpenArchive()
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"ORACLE_PROVIDER":    "openai",
		"DB_DIALECT":         "mysql",
		"ORACLE_TEMPERATURE": "warm",
		"ORACLE_TIMEOUT":     "soon",
		"COURT_SEED":         "abc",
		"LOG_LEVEL":          "loud",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "court.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("COURT_CONFIG", writeFile(t, `
starting_stats:
  Treasury: 40
  army: 90
crises:
  - description: "A comet blazes across the sky."
    options: ["Declare a feast", "Consult the astrologers"]
`))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, kingdom.Stats{Treasury: 40, Stability: 70, Popularity: 60, Army: 90}, c.StartingStats)
	assert.Equal(t, 1, c.Catalog.Len())
}

func TestLoadYAMLFileRejectsBadContent(t *testing.T) {
	clearEnv(t)
	t.Setenv("COURT_CONFIG", writeFile(t, "starting_stats:\n  gold: 50\n"))
	_, err := Load()
	assert.ErrorContains(t, err, `unknown stat "gold"`)

	t.Setenv("COURT_CONFIG", writeFile(t, "crises:\n  - description: lonely\n    options: [\"only one\"]\n"))
	_, err = Load()
	assert.ErrorContains(t, err, "options")

	t.Setenv("COURT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.ErrorContains(t, err, "read config")
}

func TestBuildOracle(t *testing.T) {
	ctx := context.Background()

	c := &Config{OracleProvider: ProviderScripted}
	o, closeFn, err := c.BuildOracle(ctx)
	require.NoError(t, err)
	defer closeFn()
	reply, err := o.Generate(ctx, "You are Advisor 1, ...", llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, scriptedReply, reply)

	c = &Config{OracleProvider: ProviderAnthropic}
	o, _, err = c.BuildOracle(ctx)
	require.NoError(t, err)
	_, err = o.Generate(ctx, "hi", llm.Options{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	c = &Config{OracleProvider: ProviderAnthropic, AnthropicAPIKey: "sk-test"}
	o, _, err = c.BuildOracle(ctx)
	require.NoError(t, err)
	assert.IsType(t, &llm.Client{}, o)

	c = &Config{OracleProvider: ProviderGemini}
	o, _, err = c.BuildOracle(ctx)
	require.NoError(t, err)
	assert.Equal(t, llm.Unavailable{Backend: ProviderGemini}, o)
}

func TestNewSourceSeeded(t *testing.T) {
	c := &Config{Seed: 7}
	a, b := c.NewSource(1), c.NewSource(1)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
	}

	first, second := c.NewSource(1), c.NewSource(2)
	same := true
	for i := 0; i < 20; i++ {
		if first.IntN(1<<30) != second.IntN(1<<30) {
			same = false
		}
	}
	assert.False(t, same, "sessions get distinct streams")
}

func TestSessionOptionsAndArchive(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_SQLITE_PATH", filepath.Join(t.TempDir(), "nested", "court.db"))
	t.Setenv("CONSULT_CONCURRENCY", "2")
	c, err := Load()
	require.NoError(t, err)

	opts := c.SessionOptions(llm.NewScripted("..."), c.NewSource(0))
	assert.Equal(t, 2, opts.Council.Concurrency)
	assert.Equal(t, c.Catalog, opts.Catalog)
	assert.Equal(t, c.OracleTimeout, opts.Council.Timeout)

	db, err := c.OpenArchive()
	require.NoError(t, err)
	require.NotNil(t, db)
	db.Close()
}
