package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T, access, refresh, global string) {
	t.Helper()
	t.Setenv("TOKEN_SECRET", access)
	t.Setenv("REFRESH_TOKEN_SECRET", refresh)
	t.Setenv("GLOBAL_SECRET", global)
}

func TestLoadConfigDefaults(t *testing.T) {
	setSecrets(t, "a", "b", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, time.Hour, cfg.OffenseExpiry)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.False(t, cfg.IsProduction())

	keys := cfg.TokenKeys()
	assert.Equal(t, []byte("c"), keys.Hash)
	assert.Equal(t, time.Hour, cfg.TokenTTLs().PasswordReset)
	assert.Equal(t, 1025, cfg.SMTP().Port)
}

func TestLoadConfigRequiresDistinctSecrets(t *testing.T) {
	setSecrets(t, "same", "same", "other")
	_, err := LoadConfig()
	assert.EqualError(t, err, "token secrets must be distinct")

	setSecrets(t, "a", "", "c")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.IsProduction())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "user", "ada")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"user":"ada"`)
}

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Cleanup(func() { RefreshTestMode() })

	t.Setenv(TestModeEnv, "")
	assert.False(t, RefreshTestMode())
	assert.False(t, InTestMode())

	t.Setenv(TestModeEnv, "true")
	assert.False(t, InTestMode(), "cached until refreshed")
	assert.True(t, RefreshTestMode())
	assert.True(t, InTestMode())
}
