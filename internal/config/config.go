package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"driftsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Queue      QueueConfig      `yaml:"queue"`
	Sync       SyncConfig       `yaml:"sync"`
	Network    NetworkConfig    `yaml:"network"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type QueueConfig struct {
	Path string `yaml:"path"`
}

type SyncConfig struct {
	MaxAttemptsPerPass int     `yaml:"max_attempts_per_pass"`
	DefaultMaxRetries  int     `yaml:"default_max_retries"`
	SyncNowRate        float64 `yaml:"sync_now_rate"`
	SyncNowBurst       int     `yaml:"sync_now_burst"`
}

type NetworkConfig struct {
	DebounceMs       int    `yaml:"debounce_ms"`
	ProbeIntervalSec int    `yaml:"probe_interval_sec"`
	ProbeURL         string `yaml:"probe_url"`
}

func (c NetworkConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

type ExecutorConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	APIKey     string `yaml:"api_key"`
}

func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type RedisConfig struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	DeadLetterKey string `yaml:"dead_letter_key"`
	StateKey      string `yaml:"state_key"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; YAML values may reference its variables
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Queue.Path == "" {
		return errors.New("queue path is required")
	}

	if c.Executor.BaseURL == "" {
		return errors.New("executor base_url is required")
	}

	if c.Sync.MaxAttemptsPerPass < 1 {
		return fmt.Errorf("sync.max_attempts_per_pass must be positive, got %d", c.Sync.MaxAttemptsPerPass)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "driftsync"
	}
	if c.Sync.MaxAttemptsPerPass == 0 {
		c.Sync.MaxAttemptsPerPass = models.DefaultMaxAttemptsPerPass
	}
	if c.Sync.DefaultMaxRetries == 0 {
		c.Sync.DefaultMaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.SyncNowRate == 0 {
		c.Sync.SyncNowRate = models.DefaultSyncNowRate
	}
	if c.Sync.SyncNowBurst == 0 {
		c.Sync.SyncNowBurst = models.DefaultSyncNowBurst
	}
	if c.Network.DebounceMs == 0 {
		c.Network.DebounceMs = int(models.DefaultDebounceWindow / time.Millisecond)
	}
	if c.Network.ProbeIntervalSec == 0 {
		c.Network.ProbeIntervalSec = int(models.DefaultProbeInterval / time.Second)
	}
	if c.Executor.TimeoutSec == 0 {
		c.Executor.TimeoutSec = int(models.DefaultExecuteTimeout / time.Second)
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "driftsync:deadletter"
	}
	if c.Redis.StateKey == "" {
		c.Redis.StateKey = "driftsync:state"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
