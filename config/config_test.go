package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, ProviderOllama, cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, 1500, cfg.Chunker.MaxChars)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.2, cfg.Retrieval.MinScore, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, SourceEDGAR, cfg.Edgar.Source)
	assert.InDelta(t, 10.0, cfg.Edgar.RateLimit, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: test.db
chunker:
  max_chars: 800
retrieval:
  top_k: 4
  rerank: true
retry:
  initial_backoff: 2s
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "test.db", cfg.Store.SQLitePath)
	assert.Equal(t, 800, cfg.Chunker.MaxChars)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.Rerank)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FILINGS_STORE_DRIVER", "memory")
	t.Setenv("FILINGS_RETRIEVAL_TOP_K", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 12, cfg.Retrieval.TopK)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FILINGS_EDGAR_SOURCE=local\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FILINGS_EDGAR_SOURCE") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, cfg.Edgar.Source)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Store.Driver = "mongo"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Embeddings.Dimension = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Edgar.Source = "ftp"
	assert.Error(t, bad.Validate())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
