package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Queue.Concurrency)
	assert.Equal(t, 300, cfg.Queue.TaskTimeout)
	assert.Equal(t, "https", cfg.SimAPI.Scheme)
	assert.Equal(t, 443, cfg.SimAPI.Port)
	assert.Equal(t, 300, cfg.Monitoring.PollIntervalSeconds)
	assert.Equal(t, 30, cfg.IdleDetector.TimeoutMinutes)
	assert.Equal(t, 10, cfg.IdleDetector.SnoozeMinutes)
	assert.Equal(t, 5, cfg.IdleDetector.CheckIntervalMinutes)
	assert.Equal(t, 10, cfg.IdleDetector.BatchConcurrency)
	assert.Equal(t, 5, cfg.License.PollIntervalSeconds)
	assert.Equal(t, 18, cfg.License.MaxPollAttempts)
	assert.Equal(t, "simfleet:scheduler-leader", cfg.Leader.Key)
	assert.Equal(t, 15, cfg.Leader.TTLSeconds)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9000
	cfg.SimAPI.Scheme = "http"
	cfg.IdleDetector.TimeoutMinutes = 45
	applyDefaults(cfg)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http", cfg.SimAPI.Scheme)
	assert.Equal(t, 45, cfg.IdleDetector.TimeoutMinutes)
}

func TestInit_LoadsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
cloud:
  region: eu-west-1
  instance_type: m5.xlarge
idle_detector:
  enabled: true
  timeout_minutes: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Init())

	assert.Equal(t, 9090, GlobalConfig.Server.Port)
	assert.Equal(t, "eu-west-1", GlobalConfig.Cloud.Region)
	assert.Equal(t, "m5.xlarge", GlobalConfig.Cloud.InstanceType)
	assert.True(t, GlobalConfig.IdleDetector.Enabled)
	assert.Equal(t, 60, GlobalConfig.IdleDetector.TimeoutMinutes)
	// Silent sections fall back to defaults.
	assert.Equal(t, 18, GlobalConfig.License.MaxPollAttempts)
	assert.Equal(t, "https", GlobalConfig.SimAPI.Scheme)
}

func TestInit_MissingFileFails(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, Init())
}

func TestIdleDetectorConfig_Durations(t *testing.T) {
	c := IdleDetectorConfig{TimeoutMinutes: 30, SnoozeMinutes: 10}
	assert.Equal(t, 30*time.Minute, c.IdleTimeout())
	assert.Equal(t, 10*time.Minute, c.Snooze())
}
