package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "debug-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 8889, cfg.Server.Port)
	assert.Equal(t, 10*time.Millisecond, cfg.Loop.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.Memory.LeakThreshold)
	assert.Equal(t, "gdb", cfg.Backend.Kind)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
backend:
  kind: lldb
  use_pty: true
  command_timeout: 2s
memory:
  leak_threshold: 1m
  scan_every: 10
threads:
  deadlock_scan_interval: 250ms
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8890, cfg.Server.HookPort)
	assert.Equal(t, "lldb", cfg.Backend.Kind)
	assert.True(t, cfg.Backend.UsePTY)
	assert.Equal(t, 2*time.Second, cfg.Backend.CommandTimeout)
	assert.Equal(t, time.Minute, cfg.Memory.LeakThreshold)
	assert.Equal(t, uint64(10), cfg.Memory.ScanEvery)
	assert.Equal(t, uint64(1024), cfg.Memory.SegmentSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Threads.DeadlockScanInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("DEBUG_ENGINE_SERVER_PORT", "9100")
	t.Setenv("DEBUG_ENGINE_LOG_LEVEL", "debug")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
