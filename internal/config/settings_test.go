package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_DefaultsWhenFileMissing(t *testing.T) {
	s, err := LoadSettings(NewSettingsViper(), filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultLogLevel, s.LogLevel)
	assert.Equal(t, defaultLogFormat, s.LogFormat)
	assert.Equal(t, defaultHTTPTimeout, s.HTTPTimeout)
	assert.Equal(t, defaultUserAgent, s.UserAgent)
	assert.NotEmpty(t, s.CredentialsDB)
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"
http_timeout = "30s"
credentials_db = "/tmp/creds.db"
`), 0o600))

	t.Setenv("SPSYNC_LOG_FORMAT", "json")
	t.Setenv("SPSYNC_HTTP_TIMEOUT", "45s")

	s, err := LoadSettings(NewSettingsViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, 45*time.Second, s.HTTPTimeout)
	assert.Equal(t, "/tmp/creds.db", s.CredentialsDB)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "chatty"
log_format = "xml"
`), 0o600))

	_, err := LoadSettings(NewSettingsViper(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "log_format")
}
