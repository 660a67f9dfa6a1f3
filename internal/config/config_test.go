package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Crawler.Concurrency)
	require.Equal(t, "mdcrawl/1.0", cfg.Crawler.UserAgent)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "pages", cfg.Artifacts.Prefix)
	require.False(t, cfg.Headless.Enabled)
	require.False(t, cfg.Auth.Enabled)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
crawler:
  concurrency: 12
storage:
  backend: postgres
  dsn: postgres://crawler:pw@localhost:5432/jobs
headless:
  enabled: true
  max_parallel: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 12, cfg.Crawler.Concurrency)
	require.Equal(t, "postgres", cfg.Storage.Backend)
	require.Equal(t, 4, cfg.Headless.MaxParallel)
	// Untouched keys keep their defaults.
	require.Equal(t, 30, cfg.Crawler.FetchTimeoutSec)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 0
		require.ErrorContains(t, cfg.Validate(), "server.port")
	})

	t.Run("bad concurrency", func(t *testing.T) {
		cfg := base()
		cfg.Crawler.Concurrency = 0
		require.ErrorContains(t, cfg.Validate(), "crawler.concurrency")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Backend = "redis"
		require.ErrorContains(t, cfg.Validate(), "storage.backend")
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Backend = "postgres"
		require.ErrorContains(t, cfg.Validate(), "storage.dsn")
	})

	t.Run("auth requires key", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Enabled = true
		require.ErrorContains(t, cfg.Validate(), "auth.api_key")
	})

	t.Run("headless requires parallelism", func(t *testing.T) {
		cfg := base()
		cfg.Headless.Enabled = true
		cfg.Headless.MaxParallel = 0
		require.ErrorContains(t, cfg.Validate(), "headless.max_parallel")
	})
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, 30*time.Minute, cfg.JobTimeout())
	require.Equal(t, 45*time.Second, cfg.NavTimeout())
}
