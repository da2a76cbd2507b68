package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every env var that Load() reads.
var allConfigKeys = []string{
	"GITHUB_TOKEN",
	"GH_DASH_DEFAULT_TOKEN",
	"GH_DASH_DEFAULT_ORG",
	"GH_DASH_MAX_ITEMS_PER_QUERY",
	"GH_DASH_CONCURRENCY",
	"GH_DASH_PER_PAGE",
	"GH_DASH_LOOKBACK",
}

// isolateConfigEnv saves and unsets the config env vars so tests don't
// inherit values from the host environment. t.Cleanup restores them.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test123")
	t.Setenv("GH_DASH_DEFAULT_ORG", "acme")
	t.Setenv("GH_DASH_MAX_ITEMS_PER_QUERY", "50")
	t.Setenv("GH_DASH_CONCURRENCY", "4")
	t.Setenv("GH_DASH_PER_PAGE", "100")
	t.Setenv("GH_DASH_LOOKBACK", "168h")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "ghp_test123", cfg.GitHubToken)
	assert.Equal(t, "acme", cfg.DefaultOrg)
	assert.Equal(t, 50, cfg.MaxItemsPerQuery)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 100, cfg.PerPage)
	assert.Equal(t, 7*24*time.Hour, cfg.Lookback)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Empty(t, cfg.GitHubToken)
	assert.Equal(t, "", cfg.DefaultOrg)
	assert.Equal(t, DefaultMaxItemsPerQuery, cfg.MaxItemsPerQuery)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultPerPage, cfg.PerPage)
	assert.Equal(t, DefaultLookback, cfg.Lookback)
}

func TestLoad_TokenFallback(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("GH_DASH_DEFAULT_TOKEN", "ghp_default")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ghp_default", cfg.GitHubToken)

	t.Setenv("GITHUB_TOKEN", "ghp_primary")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "ghp_primary", cfg.GitHubToken)
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non-numeric cap", key: "GH_DASH_MAX_ITEMS_PER_QUERY", value: "lots"},
		{name: "zero cap", key: "GH_DASH_MAX_ITEMS_PER_QUERY", value: "0"},
		{name: "negative concurrency", key: "GH_DASH_CONCURRENCY", value: "-2"},
		{name: "page size above API maximum", key: "GH_DASH_PER_PAGE", value: "101"},
		{name: "bad duration", key: "GH_DASH_LOOKBACK", value: "a month"},
		{name: "negative duration", key: "GH_DASH_LOOKBACK", value: "-1h"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolateConfigEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GH_DASH_DEFAULT_ORG=from-file\nGH_DASH_CONCURRENCY=2\n"), 0o600))
	t.Chdir(dir)
	// The environment takes precedence over the file.
	t.Setenv("GH_DASH_CONCURRENCY", "3")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.DefaultOrg)
	assert.Equal(t, 3, cfg.Concurrency)
}
