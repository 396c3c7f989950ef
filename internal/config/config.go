// Package config loads application configuration from environment variables.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	SecretKey       []byte // 32-byte AES key derived from SNAPFEED_SECRET_KEY; nil when unset.
	RefreshInterval time.Duration
	PageLimit       int

	MastodonAppName     string
	MastodonRedirectURI string
	MastodonScopes      string
	BlueskyPDS          string
}

// Load reads configuration from environment variables and returns a
// validated Config. SNAPFEED_SECRET_KEY is optional; without it the
// credential store is disabled and sessions do not survive restarts.
// Optional variables with defaults: SNAPFEED_LISTEN_ADDR (127.0.0.1:8080),
// SNAPFEED_DB_PATH (snapfeed.db), SNAPFEED_REFRESH_INTERVAL (5m),
// SNAPFEED_PAGE_LIMIT (40), SNAPFEED_MASTODON_APP_NAME (snapfeed),
// SNAPFEED_MASTODON_REDIRECT_URI, SNAPFEED_MASTODON_SCOPES (read write),
// SNAPFEED_BLUESKY_PDS (https://bsky.social).
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SNAPFEED_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "snapfeed.db"
	if v, ok := os.LookupEnv("SNAPFEED_DB_PATH"); ok {
		dbPath = v
	}

	var secretKey []byte
	if v := os.Getenv("SNAPFEED_SECRET_KEY"); v != "" {
		sum := sha256.Sum256([]byte(v))
		secretKey = sum[:]
	}

	refreshInterval := 5 * time.Minute
	if v, ok := os.LookupEnv("SNAPFEED_REFRESH_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SNAPFEED_REFRESH_INTERVAL has invalid duration %q: %w", v, err)
		}
		refreshInterval = parsed
	}

	pageLimit := 40
	if v, ok := os.LookupEnv("SNAPFEED_PAGE_LIMIT"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("SNAPFEED_PAGE_LIMIT must be a positive integer, got %q", v)
		}
		pageLimit = parsed
	}

	appName := "snapfeed"
	if v, ok := os.LookupEnv("SNAPFEED_MASTODON_APP_NAME"); ok {
		appName = v
	}

	redirectURI := "http://" + listenAddr + "/api/v1/auth/mastodon/callback"
	if v, ok := os.LookupEnv("SNAPFEED_MASTODON_REDIRECT_URI"); ok {
		redirectURI = v
	}

	scopes := "read write"
	if v, ok := os.LookupEnv("SNAPFEED_MASTODON_SCOPES"); ok {
		scopes = v
	}

	blueskyPDS := "https://bsky.social"
	if v, ok := os.LookupEnv("SNAPFEED_BLUESKY_PDS"); ok {
		blueskyPDS = v
	}

	return &Config{
		ListenAddr:          listenAddr,
		DBPath:              dbPath,
		SecretKey:           secretKey,
		RefreshInterval:     refreshInterval,
		PageLimit:           pageLimit,
		MastodonAppName:     appName,
		MastodonRedirectURI: redirectURI,
		MastodonScopes:      scopes,
		BlueskyPDS:          blueskyPDS,
	}, nil
}
