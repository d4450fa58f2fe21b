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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"run_GalaxyDock2_heme.py"}, cfg.Engine.Command)
	assert.Equal(t, 5*time.Second, cfg.Engine.KillGrace)
	assert.Equal(t, 4, cfg.Docking.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Docking.Timeout)
	assert.Zero(t, cfg.Docking.LaunchRate)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Structured)
	assert.Empty(t, cfg.Status.Addr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hemescreen.yaml")
	data := `engine:
  command: ["python3", "/opt/galaxydock2/run_GalaxyDock2_heme.py"]
  home: /opt/galaxydock2
docking:
  workers: 12
  timeout: 30m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"python3", "/opt/galaxydock2/run_GalaxyDock2_heme.py"}, cfg.Engine.Command)
	assert.Equal(t, "/opt/galaxydock2", cfg.Engine.Home)
	assert.Equal(t, 12, cfg.Docking.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Docking.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HEMESCREEN_DOCKING_WORKERS", "7")
	t.Setenv("HEMESCREEN_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Docking.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
