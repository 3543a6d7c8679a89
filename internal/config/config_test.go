package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, "sqlite", c.Provider)
	require.Equal(t, "./alpha.db", c.SQLite.Path)
	require.Equal(t, 5*time.Minute, c.Cache.TTL)
	require.False(t, c.Cache.Enabled)
	require.Equal(t, "fs", c.Backup.Driver)
	require.Equal(t, "info", c.Log.Level)
}

func TestLoadFromPathAppliesDefaultsToMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: postgres
postgres:
  dsn: postgres://u:p@localhost/alpha
cache:
  enabled: true
  ttl: 30s
backup:
  driver: s3
  s3:
    bucket: alpha-backups
    path_style: true
`), 0o600))

	c, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", c.Provider)
	require.Equal(t, "postgres://u:p@localhost/alpha", c.Postgres.DSN)
	require.True(t, c.Cache.Enabled)
	require.Equal(t, 30*time.Second, c.Cache.TTL)
	require.Equal(t, 1024, c.Cache.Size)
	require.Equal(t, "alpha-backups", c.Backup.S3.Bucket)
	require.True(t, c.Backup.S3.PathStyle)
	require.Equal(t, "./alpha.db", c.SQLite.Path)
}

func TestLoadFromPathRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unterminated"), 0o600))
	_, err := LoadFromPath(path)
	require.ErrorContains(t, err, "parse config")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: sqlite\nsqlite:\n  path: file.db\n"), 0o600))
	t.Setenv(EnvConfig, path)
	t.Setenv("ALPHA_PROVIDER", " Postgres ")
	t.Setenv("ALPHA_SQLITE_PATH", "env.db")
	t.Setenv("ALPHA_CACHE_ENABLED", "true")
	t.Setenv("ALPHA_CACHE_SIZE", "16")
	t.Setenv("ALPHA_CACHE_TTL", "1m")
	t.Setenv("ALPHA_BLOB_S3_PATH_STYLE", "1")

	c, used, err := Load()
	require.NoError(t, err)
	require.Equal(t, path, used)
	require.Equal(t, "postgres", c.Provider)
	require.Equal(t, "env.db", c.SQLite.Path)
	require.True(t, c.Cache.Enabled)
	require.Equal(t, 16, c.Cache.Size)
	require.Equal(t, time.Minute, c.Cache.TTL)
	require.True(t, c.Backup.S3.PathStyle)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(EnvConfig, "")
	c, used, err := Load()
	require.NoError(t, err)
	require.Empty(t, used)
	require.Equal(t, "sqlite", c.Provider)
}

func TestLoadFailsForExplicitMissingFileAndBadEnv(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	_, _, err := Load()
	require.Error(t, err)

	c := Default()
	err = c.applyEnv(func(name string) (string, bool) {
		if name == "ALPHA_CACHE_SIZE" {
			return "lots", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "ALPHA_CACHE_SIZE")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.Backup.Prefix = "nightly"
	require.NoError(t, c.Save(path))
	got, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, c, got)
}
