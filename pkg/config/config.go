package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Queue        QueueConfig        `yaml:"queue"`
	Cloud        CloudConfig        `yaml:"cloud"`
	SimAPI       SimAPIConfig       `yaml:"sim_api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	IdleDetector IdleDetectorConfig `yaml:"idle_detector"`
	License      LicenseConfig      `yaml:"license"`
	Leader       LeaderConfig       `yaml:"leader"`
	Logger       LoggerConfig       `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for request authentication (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig async queue configuration
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // queue processing concurrency
	MaxRetry    int `yaml:"max_retry"`   // maximum retry count
	TaskTimeout int `yaml:"task_timeout"` // task timeout (seconds)
}

// CloudConfig cloud provider configuration
type CloudConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ImageRef        string `yaml:"image_ref"`     // default machine image
	InstanceType    string `yaml:"instance_type"` // default instance type
	SubnetID        string `yaml:"subnet_id"`
	SecurityGroupID string `yaml:"security_group_id"`
}

// SimAPIConfig sim app API client configuration
type SimAPIConfig struct {
	Scheme         string `yaml:"scheme"`          // http or https
	Port           int    `yaml:"port"`            // sim app API port on the worker
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"` // per-request timeout
}

// MonitoringConfig metrics/telemetry sync static defaults. DB-backed system
// settings override the poll interval at runtime.
type MonitoringConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"` // metrics sync interval
}

// IdleDetectorConfig idle detection static defaults. DB-backed system
// settings override these per-field at runtime.
type IdleDetectorConfig struct {
	Enabled              bool `yaml:"enabled"`
	TimeoutMinutes       int  `yaml:"timeout_minutes"`        // idle threshold
	SnoozeMinutes        int  `yaml:"snooze_minutes"`         // post-resume cooldown
	CheckIntervalMinutes int  `yaml:"check_interval_minutes"` // scheduler interval
	BatchConcurrency     int  `yaml:"batch_concurrency"`      // max concurrent per-worker pipelines
}

// LicenseConfig license operation polling configuration
type LicenseConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxPollAttempts     int `yaml:"max_poll_attempts"`
}

// LeaderConfig leader election configuration
type LeaderConfig struct {
	Key        string `yaml:"key"`         // lease key in redis
	TTLSeconds int    `yaml:"ttl_seconds"` // lease TTL; renewed at TTL/3
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	applyDefaults(&cfg)
	GlobalConfig = &cfg
	return nil
}

// applyDefaults fills invalid or missing values so the process stays
// operational with a partial config file.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 10
	}
	if cfg.Queue.MaxRetry < 0 {
		cfg.Queue.MaxRetry = 3
	}
	if cfg.Queue.TaskTimeout <= 0 {
		cfg.Queue.TaskTimeout = 300
	}
	if cfg.SimAPI.Scheme == "" {
		cfg.SimAPI.Scheme = "https"
	}
	if cfg.SimAPI.Port <= 0 {
		cfg.SimAPI.Port = 443
	}
	if cfg.SimAPI.TimeoutSeconds <= 0 {
		cfg.SimAPI.TimeoutSeconds = 30
	}
	if cfg.Monitoring.PollIntervalSeconds <= 0 {
		cfg.Monitoring.PollIntervalSeconds = 300
	}
	if cfg.IdleDetector.TimeoutMinutes <= 0 {
		cfg.IdleDetector.TimeoutMinutes = 30
	}
	if cfg.IdleDetector.SnoozeMinutes <= 0 {
		cfg.IdleDetector.SnoozeMinutes = 10
	}
	if cfg.IdleDetector.CheckIntervalMinutes <= 0 {
		cfg.IdleDetector.CheckIntervalMinutes = 5
	}
	if cfg.IdleDetector.BatchConcurrency <= 0 {
		cfg.IdleDetector.BatchConcurrency = 10
	}
	if cfg.License.PollIntervalSeconds <= 0 {
		cfg.License.PollIntervalSeconds = 5
	}
	if cfg.License.MaxPollAttempts <= 0 {
		cfg.License.MaxPollAttempts = 18
	}
	if cfg.Leader.Key == "" {
		cfg.Leader.Key = "simfleet:scheduler-leader"
	}
	if cfg.Leader.TTLSeconds <= 0 {
		cfg.Leader.TTLSeconds = 15
	}
}

// IdleTimeout returns the static idle threshold as a duration.
func (c *IdleDetectorConfig) IdleTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Snooze returns the static snooze window as a duration.
func (c *IdleDetectorConfig) Snooze() time.Duration {
	return time.Duration(c.SnoozeMinutes) * time.Minute
}
