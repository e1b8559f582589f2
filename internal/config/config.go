package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Client     ClientConfig     `yaml:"client"`
	Connection ConnectionConfig `yaml:"connection"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	APIKey         string        `yaml:"api_key"`
	ExpiredTokens  []string      `yaml:"expired_tokens"`
	HealthInterval time.Duration `yaml:"health_interval"`
	MaxConnections int           `yaml:"max_connections"`
}

// ClientConfig identifies the user a client connects as.
type ClientConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"`
}

type ConnectionConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MonitorInterval     time.Duration `yaml:"monitor_interval"`
	SilenceSlack        time.Duration `yaml:"silence_slack"`
	OfflineGrace        time.Duration `yaml:"offline_grace"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			HealthInterval: 30 * time.Second,
		},
		Client: ClientConfig{
			URL:    "ws://127.0.0.1:8080/connect",
			UserID: "anonymous",
		},
		Connection: ConnectionConfig{
			HealthCheckInterval: 30 * time.Second,
			MonitorInterval:     time.Second,
			SilenceSlack:        10 * time.Second,
			OfflineGrace:        5 * time.Second,
			HandshakeTimeout:    10 * time.Second,
			WriteTimeout:        10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. A missing file is not an error so the
// binaries run with flags alone.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	cc := c.Connection
	if cc.HealthCheckInterval <= 0 || cc.MonitorInterval <= 0 {
		return fmt.Errorf("connection intervals must be positive")
	}
	if cc.OfflineGrace < 0 || cc.SilenceSlack < 0 {
		return fmt.Errorf("connection grace periods must not be negative")
	}
	return nil
}

// IsTokenExpired reports whether the server should reject token as expired.
func (s ServerConfig) IsTokenExpired(token string) bool {
	for _, t := range s.ExpiredTokens {
		if t == token {
			return true
		}
	}
	return false
}
