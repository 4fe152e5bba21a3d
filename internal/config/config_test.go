package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, ProviderGemini, cfg.Planner.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Planner.Model)
	assert.Equal(t, 2*time.Second, cfg.Agent.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Agent.CaptureMinInterval)
	assert.InDelta(t, 0.55, cfg.Agent.ConfidenceThreshold, 1e-9)
	assert.Equal(t, SurfaceNull, cfg.Surface.Driver)
	assert.Equal(t, "data", cfg.Storage.DataDir)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  mode: FREEROAM
  confidence_threshold: 0.7
planner:
  provider: vlm
  endpoint: http://localhost:11434
surface:
  driver: cdp
  headless: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "FREEROAM", cfg.Agent.Mode)
	assert.InDelta(t, 0.7, cfg.Agent.ConfidenceThreshold, 1e-9)
	assert.Equal(t, ProviderVLM, cfg.Planner.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Planner.Endpoint)
	assert.Equal(t, SurfaceCDP, cfg.Surface.Driver)
	assert.True(t, cfg.Surface.Headless)

	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Agent.TickInterval)
	assert.Equal(t, "data", cfg.Storage.DataDir)
}

func TestValidate(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Planner.Provider = "skynet"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown surface driver", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Surface.Driver = "hologram"
		assert.Error(t, cfg.Validate())
	})

	t.Run("confidence threshold out of range", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Agent.ConfidenceThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty data dir", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Storage.DataDir = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MARIONETTE_PLANNER_PROVIDER", "none")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, cfg.Planner.Provider)
}
