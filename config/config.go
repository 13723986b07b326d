// Package config loads the immutable configuration snapshot shared by the
// router and scheduler binaries. Values come from an optional YAML file with
// environment overrides; the snapshot is re-read on SIGHUP.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// CronJob describes one statically configured cron entry for the scheduler
// runtime: a 5-field cron expression, the target queue, and the request
// payload to emit at each fire.
type CronJob struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	Queue    string `mapstructure:"queue" yaml:"queue"`
	Payload  string `mapstructure:"payload" yaml:"payload"`
}

// Config holds all recognized options.
type Config struct {
	FrontendAddr string `mapstructure:"frontend_addr" yaml:"frontend_addr"`
	BackendAddr  string `mapstructure:"backend_addr" yaml:"backend_addr"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	DisableHeartbeats bool          `mapstructure:"disable_heartbeats" yaml:"disable_heartbeats"`

	HWM int `mapstructure:"hwm" yaml:"hwm"`

	WorkerCleanupInterval    time.Duration `mapstructure:"worker_cleanup_interval" yaml:"worker_cleanup_interval"`
	SchedulerCleanupInterval time.Duration `mapstructure:"scheduler_cleanup_interval" yaml:"scheduler_cleanup_interval"`

	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`
	LokiAddress string `mapstructure:"loki_address" yaml:"loki_address"`

	CronJobs []CronJob `mapstructure:"cron_jobs" yaml:"cron_jobs"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		FrontendAddr:             "tcp://*:47290",
		BackendAddr:              "tcp://*:47291",
		HeartbeatInterval:        15 * time.Second,
		HeartbeatTimeout:         60 * time.Second,
		DisableHeartbeats:        false,
		HWM:                      10000,
		WorkerCleanupInterval:    10 * time.Second,
		SchedulerCleanupInterval: 10 * time.Second,
		LogLevel:                 "info",
		LogFormat:                "text",
		LokiAddress:              "",
	}
}

// Load reads the configuration file at path, if any, applies JOBMQ_*
// environment overrides, and validates the result. An empty path loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("frontend_addr", defaults.FrontendAddr)
	v.SetDefault("backend_addr", defaults.BackendAddr)
	v.SetDefault("heartbeat_interval", defaults.HeartbeatInterval)
	v.SetDefault("heartbeat_timeout", defaults.HeartbeatTimeout)
	v.SetDefault("disable_heartbeats", defaults.DisableHeartbeats)
	v.SetDefault("hwm", defaults.HWM)
	v.SetDefault("worker_cleanup_interval", defaults.WorkerCleanupInterval)
	v.SetDefault("scheduler_cleanup_interval", defaults.SchedulerCleanupInterval)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("loki_address", defaults.LokiAddress)

	v.SetEnvPrefix("JOBMQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration parameters.
func (c *Config) Validate() error {
	if c.FrontendAddr == "" {
		return fmt.Errorf("frontend_addr cannot be empty")
	}
	if c.BackendAddr == "" {
		return fmt.Errorf("backend_addr cannot be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.HWM <= 0 {
		return fmt.Errorf("hwm must be positive")
	}
	if c.WorkerCleanupInterval <= 0 {
		return fmt.Errorf("worker_cleanup_interval must be positive")
	}
	if c.SchedulerCleanupInterval <= 0 {
		return fmt.Errorf("scheduler_cleanup_interval must be positive")
	}

	validLogLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	valid := false
	for _, level := range validLogLevels {
		if strings.ToLower(c.LogLevel) == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	for i, job := range c.CronJobs {
		if job.Schedule == "" {
			return fmt.Errorf("cron_jobs[%d]: schedule cannot be empty", i)
		}
		if job.Queue == "" {
			return fmt.Errorf("cron_jobs[%d]: queue cannot be empty", i)
		}
	}

	return nil
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
