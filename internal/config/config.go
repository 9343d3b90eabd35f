package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ops      OpsConfig      `yaml:"ops"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	FilePort int    `yaml:"file_port"`
	// PublicHost is advertised to clients for the data channel. Falls back
	// to Host when empty.
	PublicHost string `yaml:"public_host"`

	SessionTimeout       time.Duration `yaml:"session_timeout"`
	PresenceScanInterval time.Duration `yaml:"presence_scan_interval"`
	SessionTTL           time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OpsConfig is the HTTP surface for health, stats and metrics.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads an optional YAML file; a missing path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_FILE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.FilePort = port
		}
	}
	if v := os.Getenv("SERVER_SESSION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Server.SessionTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SERVER_PRESENCE_SCAN_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Server.PresenceScanInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SERVER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SERVER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.FilePort < 0 || c.Server.FilePort > 65535 {
		return fmt.Errorf("server.file_port out of range: %d", c.Server.FilePort)
	}
	if c.Server.Port != 0 && c.Server.Port == c.Server.FilePort {
		return fmt.Errorf("server.port and server.file_port must differ")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8088
	}
	if c.Server.FilePort == 0 {
		c.Server.FilePort = 9090
	}
	if c.Server.PublicHost == "" {
		c.Server.PublicHost = c.Server.Host
	}
	if c.Server.SessionTimeout == 0 {
		c.Server.SessionTimeout = 30 * time.Second
	}
	if c.Server.PresenceScanInterval == 0 {
		c.Server.PresenceScanInterval = 5 * time.Second
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = time.Hour
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/server.db"
	}
	if c.Ops.Host == "" {
		c.Ops.Host = c.Server.Host
	}
	if c.Ops.Port == 0 {
		c.Ops.Port = 8089
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) FileAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.FilePort)
}

func (c *Config) OpsAddr() string {
	return fmt.Sprintf("%s:%d", c.Ops.Host, c.Ops.Port)
}
