package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/query"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docgrove.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, query.DefaultConfig(), cfg.QueryConfig())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
query:
  default_limit: 20
  max_limit: 50
store:
  backend: sqlite
  path: /tmp/grove.db
log:
  level: debug
`)
	t.Setenv("DOCGROVE_QUERY_MAX_LIMIT", "80")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Query.DefaultLimit)
	assert.Equal(t, 80, cfg.Query.MaxLimit, "environment overrides the file")
	assert.Equal(t, 3, cfg.Query.MaxIndexDifference, "unset keys keep their defaults")
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"query.default_limit": "query:\n  default_limit: 200\n  max_limit: 100\n",
		"query.max_limit":     "query:\n  max_limit: 0\n",
		"store.backend":       "store:\n  backend: postgres\n",
		"store.path":          "store:\n  backend: badger\n",
		"log.level":           "log:\n  level: loud\n",
	}
	for key, body := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			require.True(t, IsValidationError(err), err.Error())
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}
