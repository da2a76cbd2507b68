// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultMaxItemsPerQuery = 200
	DefaultConcurrency      = 1
	DefaultPerPage          = 50
	DefaultLookback         = 30 * 24 * time.Hour
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken string
	DefaultOrg  string

	// MaxItemsPerQuery bounds API cost: each review search pass inspects at
	// most this many pull requests.
	MaxItemsPerQuery int
	Concurrency      int
	PerPage          int
	Lookback         time.Duration
}

// Load reads configuration from the environment, after merging in a .env
// file from the working directory when one exists. Variables already set in
// the environment win over the file.
//
// GITHUB_TOKEN (or GH_DASH_DEFAULT_TOKEN) holds the token. Optional variables
// with defaults: GH_DASH_DEFAULT_ORG (""), GH_DASH_MAX_ITEMS_PER_QUERY (200),
// GH_DASH_CONCURRENCY (1), GH_DASH_PER_PAGE (50), GH_DASH_LOOKBACK (720h).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_DASH_DEFAULT_TOKEN")
	}

	maxItems, err := positiveInt("GH_DASH_MAX_ITEMS_PER_QUERY", DefaultMaxItemsPerQuery)
	if err != nil {
		return nil, err
	}
	concurrency, err := positiveInt("GH_DASH_CONCURRENCY", DefaultConcurrency)
	if err != nil {
		return nil, err
	}
	perPage, err := positiveInt("GH_DASH_PER_PAGE", DefaultPerPage)
	if err != nil {
		return nil, err
	}
	if perPage > 100 {
		return nil, fmt.Errorf("GH_DASH_PER_PAGE must be at most 100, got %d", perPage)
	}

	lookback := DefaultLookback
	if v, ok := os.LookupEnv("GH_DASH_LOOKBACK"); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GH_DASH_LOOKBACK has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("GH_DASH_LOOKBACK must not be negative, got %s", v)
		}
		lookback = parsed
	}

	return &Config{
		GitHubToken:      token,
		DefaultOrg:       os.Getenv("GH_DASH_DEFAULT_ORG"),
		MaxItemsPerQuery: maxItems,
		Concurrency:      concurrency,
		PerPage:          perPage,
		Lookback:         lookback,
	}, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
