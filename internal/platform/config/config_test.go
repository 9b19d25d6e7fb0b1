package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv_fallback(t *testing.T) {
	t.Setenv("YTLIVE_TEST_VALUE", "")
	assert.Equal(t, "fallback", GetEnv("YTLIVE_TEST_VALUE", "fallback"))

	t.Setenv("YTLIVE_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("YTLIVE_TEST_VALUE", "fallback"))
}

func TestGetEnvInt_invalid(t *testing.T) {
	t.Setenv("YTLIVE_TEST_INT", "nope")
	assert.Equal(t, 7, GetEnvInt("YTLIVE_TEST_INT", 7))

	t.Setenv("YTLIVE_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("YTLIVE_TEST_INT", 7))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("YTLIVE_TEST_DUR", "1m30s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("YTLIVE_TEST_DUR", time.Second))

	t.Setenv("YTLIVE_TEST_DUR", "12")
	assert.Equal(t, 12*time.Second, GetEnvDuration("YTLIVE_TEST_DUR", time.Second))

	t.Setenv("YTLIVE_TEST_DUR", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("YTLIVE_TEST_DUR", time.Second))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("YTLIVE_TEST_BOOL", "true")
	assert.True(t, GetEnvBool("YTLIVE_TEST_BOOL", false))

	t.Setenv("YTLIVE_TEST_BOOL", "maybe")
	assert.False(t, GetEnvBool("YTLIVE_TEST_BOOL", false))
}

func TestFromEnv_defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "VIDEO_UPLOADS", "HEARTBEAT_INTERVAL", "STATUS_EVENT_LIMIT", "INGEST_URL", "YOUTUBE_CLIENT_ID", "YOUTUBE_CLIENT_SECRET", "YOUTUBE_REDIRECT_URL"} {
		t.Setenv(key, "")
	}

	s := FromEnv()
	assert.Equal(t, "8080", s.Port)
	assert.Equal(t, "streaming_logs.db", s.DatabaseURL)
	assert.Equal(t, time.Minute, s.HeartbeatInterval)
	assert.Equal(t, 15, s.StatusEventLimit)
	assert.Equal(t, DefaultIngestURL, s.IngestURL)
	assert.False(t, s.OAuth.Configured())
	assert.True(t, s.VideoUploads)
	assert.Equal(t, "http://localhost:8080/auth/callback", s.OAuth.RedirectURL)

	t.Setenv("VIDEO_UPLOADS", "false")
	assert.False(t, FromEnv().VideoUploads)
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("YTLIVE_DOTENV_VALUE=from-file\n"), 0o600))
	t.Setenv("YTLIVE_DOTENV_VALUE", "")
	require.NoError(t, os.Unsetenv("YTLIVE_DOTENV_VALUE"))

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", GetEnv("YTLIVE_DOTENV_VALUE", ""))
}
