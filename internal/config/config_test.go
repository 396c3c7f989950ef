package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "snapfeed.db", cfg.DBPath)
	assert.Nil(t, cfg.SecretKey)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 40, cfg.PageLimit)
	assert.Equal(t, "snapfeed", cfg.MastodonAppName)
	assert.Equal(t, "http://127.0.0.1:8080/api/v1/auth/mastodon/callback", cfg.MastodonRedirectURI)
	assert.Equal(t, "read write", cfg.MastodonScopes)
	assert.Equal(t, "https://bsky.social", cfg.BlueskyPDS)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SNAPFEED_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("SNAPFEED_DB_PATH", "/tmp/feed.db")
	t.Setenv("SNAPFEED_REFRESH_INTERVAL", "90s")
	t.Setenv("SNAPFEED_PAGE_LIMIT", "25")
	t.Setenv("SNAPFEED_MASTODON_REDIRECT_URI", "urn:ietf:wg:oauth:2.0:oob")
	t.Setenv("SNAPFEED_BLUESKY_PDS", "https://pds.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/feed.db", cfg.DBPath)
	assert.Equal(t, 90*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 25, cfg.PageLimit)
	assert.Equal(t, "urn:ietf:wg:oauth:2.0:oob", cfg.MastodonRedirectURI)
	assert.Equal(t, "https://pds.example", cfg.BlueskyPDS)
}

func TestLoad_SecretKeyDerivation(t *testing.T) {
	t.Setenv("SNAPFEED_SECRET_KEY", "correct horse battery staple")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.SecretKey, 32)

	again, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.SecretKey, again.SecretKey, "key derivation must be deterministic")
}

func TestLoad_InvalidRefreshInterval(t *testing.T) {
	t.Setenv("SNAPFEED_REFRESH_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNAPFEED_REFRESH_INTERVAL")
}

func TestLoad_InvalidPageLimit(t *testing.T) {
	t.Setenv("SNAPFEED_PAGE_LIMIT", "-3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNAPFEED_PAGE_LIMIT")
}
