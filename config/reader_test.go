package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Feed.TimelineMaxSize)
	require.Equal(t, 20, cfg.Feed.WarmUpBatch)
	require.Equal(t, 10, cfg.Feed.DefaultPageSize)
	require.Equal(t, 2, cfg.Feed.GuaranteedPerAuthor)
	require.InDelta(t, 0.3, cfg.Feed.ExtraProbability, 1e-9)
	require.Equal(t, 5, cfg.Workers.Count)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
db:
  driver: sqlite
  path: /tmp/feed.db
  replicas:
    - host: replica-1
      port: 5433
redis:
  host: cache
  port: 6380
feed:
  timeline_max_size: 200
  warmup_batch: 5
  default_page_size: 10
  max_page_size: 50
  discovery_size: 20
  oversample: 3
  guaranteed_per_author: 1
  extra_probability: 0.5
  decay_factor: 0.25
workers:
  count: 2
  queue: memory
  max_attempts: 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "/tmp/feed.db", cfg.Database.Path)
	require.Len(t, cfg.Database.Replicas, 1)
	require.Equal(t, "replica-1", cfg.Database.Replicas[0].Host)
	require.Equal(t, "cache:6380", cfg.Redis.Addr())
	require.Equal(t, 200, cfg.Feed.TimelineMaxSize)
	require.Equal(t, "memory", cfg.Workers.Queue)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 7000, cfg.Redis.Port)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Feed.ExtraProbability = 1.5
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers.Queue = "kafka"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Feed.MaxPageSize = 5
	require.Error(t, cfg.Validate())
}
