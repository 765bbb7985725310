package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/apperrors"
)

func TestDefaultEnablesEveryService(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.Services, 11)
	for name, svc := range cfg.Services {
		assert.True(t, svc.Enabled, "service %s should default to enabled", name)
		assert.Greater(t, svc.Port, 0, "service %s needs a default port", name)
	}
	assert.True(t, cfg.Dashboard.Enabled)
	assert.NotEmpty(t, cfg.DatabasePath)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  ssh:
    enabled: true
    port: 2200
    banner: "OpenSSH_9.0"
database_path: /tmp/test-mantis.db
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2200, cfg.Services["ssh"].Port)
	assert.Equal(t, "OpenSSH_9.0", cfg.Services["ssh"].Banner)
	assert.Equal(t, "/tmp/test-mantis.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched services keep their defaults.
	assert.Equal(t, 6379, cfg.Services["redis"].Port)
	assert.True(t, cfg.Dashboard.Enabled)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  ssh:
    enabled: true
    port: 70000
`), 0o600))

	_, err := Load(path)
	var fce *apperrors.FatalConfigError
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, "services.ssh.port", fce.Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidateRequiresDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())
}
