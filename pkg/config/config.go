package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server Server       `yaml:"server"`
	Broker BrokerConfig `yaml:"broker"`
	Log    LogConfig    `yaml:"log"`
	Redis  RedisConfig  `yaml:"redis"`
	Logger LoggerConfig `yaml:"logger"`
}

// Server HTTP API configuration
type Server struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

// BrokerConfig lifecycle controller configuration
type BrokerConfig struct {
	FinishedTasksRetention  int `yaml:"finished_tasks_retention"`    // how long terminal tasks stay in memory (milliseconds)
	MaxExpiredTasksPerCycle int `yaml:"max_expired_tasks_per_cycle"` // expirations signalled per purge pass
	CheckpointInterval      int `yaml:"checkpoint_interval"`         // seconds
	PurgeInterval           int `yaml:"purge_interval"`              // seconds
}

// RetentionDuration returns the finished-tasks retention.
func (c BrokerConfig) RetentionDuration() time.Duration {
	return time.Duration(c.FinishedTasksRetention) * time.Millisecond
}

// CheckpointIntervalDuration returns the checkpoint period.
func (c BrokerConfig) CheckpointIntervalDuration() time.Duration {
	return time.Duration(c.CheckpointInterval) * time.Second
}

// PurgeIntervalDuration returns the purge period.
func (c BrokerConfig) PurgeIntervalDuration() time.Duration {
	return time.Duration(c.PurgeInterval) * time.Second
}

// LogConfig status-changes log backend configuration
type LogConfig struct {
	Backend string `yaml:"backend"` // memory, file, redis
	Dir     string `yaml:"dir"`     // journal directory for the file backend
}

// RedisConfig Redis configuration (redis log backend)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
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

	cfg.ApplyDefaults()
	GlobalConfig = &cfg
	return nil
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 7364
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Broker.FinishedTasksRetention <= 0 {
		c.Broker.FinishedTasksRetention = int(time.Hour.Milliseconds())
	}
	if c.Broker.MaxExpiredTasksPerCycle <= 0 {
		c.Broker.MaxExpiredTasksPerCycle = 1000
	}
	if c.Broker.CheckpointInterval <= 0 {
		c.Broker.CheckpointInterval = 300
	}
	if c.Broker.PurgeInterval <= 0 {
		c.Broker.PurgeInterval = 60
	}
	if c.Log.Backend == "" {
		c.Log.Backend = "memory"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "data/commitlog"
	}
}
