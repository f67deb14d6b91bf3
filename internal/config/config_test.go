package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.Idempotency.DefaultTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Idempotency.PollInterval)
	assert.Equal(t, 10, cfg.Idempotency.PollAttempts)
	assert.Equal(t, 3, cfg.MaxToolCallsPerTurn)
	assert.Equal(t, 5, cfg.ContextRecordLimit)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	data := []byte("port: 9090\nprovider:\n  base_url: http://file.example\n  model: file-model\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("RELAY_PROVIDER_MODEL", "env-model")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://file.example", cfg.Provider.BaseURL)
	assert.Equal(t, "env-model", cfg.Provider.Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Port = -1
	assert.Error(t, cfg.Validate())

	cfg.Port = 8080
	cfg.Idempotency.DefaultTTL = 0
	assert.Error(t, cfg.Validate())
}
