package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type RelayConfig struct {
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxViewers       int           `yaml:"max_viewers"`
	MaxFrameQueue    int           `yaml:"max_frame_queue"`
	SendQueue        int           `yaml:"send_queue"`
	MaxBufferedBytes int64         `yaml:"max_buffered_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Relay: RelayConfig{
			SessionTTL:       15 * time.Minute,
			SweepInterval:    15 * time.Second,
			MaxViewers:       3,
			MaxFrameQueue:    2,
			SendQueue:        64,
			MaxBufferedBytes: 1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration, used when no file is given
// and by tests.
func Default() *Config {
	return defaultConfig()
}

// Load reads a yaml config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Relay.SessionTTL <= 0 {
		return fmt.Errorf("relay.session_ttl must be positive")
	}
	if c.Relay.SweepInterval <= 0 {
		return fmt.Errorf("relay.sweep_interval must be positive")
	}
	if c.Relay.MaxViewers <= 0 {
		return fmt.Errorf("relay.max_viewers must be positive")
	}
	if c.Relay.MaxFrameQueue < 1 {
		return fmt.Errorf("relay.max_frame_queue must be at least 1")
	}
	if c.Relay.SendQueue <= 0 {
		return fmt.Errorf("relay.send_queue must be positive")
	}
	if c.Relay.MaxBufferedBytes <= 0 {
		return fmt.Errorf("relay.max_buffered_bytes must be positive")
	}
	return nil
}
