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

	assert.Equal(t, "tcp://*:47290", cfg.FrontendAddr)
	assert.Equal(t, "tcp://*:47291", cfg.BackendAddr)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)
	assert.False(t, cfg.DisableHeartbeats)
	assert.Equal(t, 10000, cfg.HWM)
	assert.Equal(t, 10*time.Second, cfg.WorkerCleanupInterval)
	assert.Equal(t, 10*time.Second, cfg.SchedulerCleanupInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.CronJobs)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobmq.yaml")
	content := `
frontend_addr: tcp://*:7700
backend_addr: tcp://*:7701
heartbeat_interval: 5s
hwm: 100
cron_jobs:
  - schedule: "* * * * *"
    queue: default
    payload: tick
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://*:7700", cfg.FrontendAddr)
	assert.Equal(t, "tcp://*:7701", cfg.BackendAddr)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 100, cfg.HWM)
	// Unset keys keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)

	require.Len(t, cfg.CronJobs, 1)
	assert.Equal(t, "* * * * *", cfg.CronJobs[0].Schedule)
	assert.Equal(t, "default", cfg.CronJobs[0].Queue)
	assert.Equal(t, "tick", cfg.CronJobs[0].Payload)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("JOBMQ_HWM", "42")
	t.Setenv("JOBMQ_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("JOBMQ_DISABLE_HEARTBEATS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.HWM)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.True(t, cfg.DisableHeartbeats)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "defaults are valid",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "empty frontend address",
			mutate:    func(c *Config) { c.FrontendAddr = "" },
			expectErr: true,
		},
		{
			name:      "empty backend address",
			mutate:    func(c *Config) { c.BackendAddr = "" },
			expectErr: true,
		},
		{
			name:      "zero heartbeat interval",
			mutate:    func(c *Config) { c.HeartbeatInterval = 0 },
			expectErr: true,
		},
		{
			name:      "negative heartbeat timeout",
			mutate:    func(c *Config) { c.HeartbeatTimeout = -time.Second },
			expectErr: true,
		},
		{
			name:      "zero hwm",
			mutate:    func(c *Config) { c.HWM = 0 },
			expectErr: true,
		},
		{
			name:      "zero worker cleanup interval",
			mutate:    func(c *Config) { c.WorkerCleanupInterval = 0 },
			expectErr: true,
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.LogLevel = "loud" },
			expectErr: true,
		},
		{
			name:      "cron job without schedule",
			mutate:    func(c *Config) { c.CronJobs = []CronJob{{Queue: "default"}} },
			expectErr: true,
		},
		{
			name:      "cron job without queue",
			mutate:    func(c *Config) { c.CronJobs = []CronJob{{Schedule: "* * * * *"}} },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestString(t *testing.T) {
	cfg := Default()

	rendered := cfg.String()
	assert.Contains(t, rendered, "frontend_addr")
	assert.Contains(t, rendered, "hwm")
}
