package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/config"
)

// setEnv is a helper that sets environment variables for a test and restores them after.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

// validEnv returns the minimum set of valid environment variables.
func validEnv() map[string]string {
	return map[string]string{
		"TRAINER_BASE_URL": "http://localhost:8000",
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setEnv(t, validEnv())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8771, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "http://localhost:8000", cfg.Trainer.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Trainer.Timeout)
	assert.Equal(t, "models.yaml", cfg.Catalog.ModelsFile)
	assert.Equal(t, 30*time.Second, cfg.Catalog.CacheTTL)
	assert.NotEmpty(t, cfg.Data.Dir)
	assert.Empty(t, cfg.Auth.PasswordHash)
}

func TestLoad_CustomPort(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("KIKO_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_InvalidPort(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("KIKO_PORT", "99999")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIKO_PORT")
}

func TestLoad_MissingTrainerURL(t *testing.T) {
	t.Setenv("TRAINER_BASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRAINER_BASE_URL")
}

func TestLoad_InvalidTrainerURL(t *testing.T) {
	t.Setenv("TRAINER_BASE_URL", "localhost:8000")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http://")
}

func TestLoad_MemoryOnlyDataDir(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("KIKO_DATA_DIR", "none")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Data.Dir)
}

func TestLoad_CustomDataDir(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("KIKO_DATA_DIR", "/var/lib/kiko")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kiko", cfg.Data.Dir)
}

func TestLoad_TrainerTimeout(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("TRAINER_TIMEOUT", "90s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Trainer.Timeout)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("TRAINER_TIMEOUT", "not-a-duration")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Trainer.Timeout)
}

func TestLoad_AuthHash(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("KIKO_AUTH_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", cfg.Auth.PasswordHash)
}
