package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, 256, cfg.Engine.MailboxSize)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Spool.Dir, cfg.Spool.Dir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
node:
  name: alpha
  coordinator: true
spool:
  dir: /tmp/spool
history:
  path: /tmp/history.db
  retention: 72h
telemetry:
  logging:
    level: debug
`
	path := filepath.Join(t.TempDir(), "pacer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.Node.Name)
	assert.Equal(t, "/tmp/spool", cfg.Spool.Dir)
	assert.Equal(t, 72*time.Hour, cfg.History.Retention)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, 256, cfg.Engine.MailboxSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	doc := `
node:
  name: ""
`
	path := filepath.Join(t.TempDir(), "pacer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
