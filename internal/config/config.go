package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Cron struct {
		Secret string `yaml:"secret"`
	} `yaml:"cron"`
	Browser struct {
		ExecPath          string `yaml:"exec_path"`
		QuiesceTimeoutSec int    `yaml:"quiesce_timeout_sec"`
		CaptureTimeoutSec int    `yaml:"capture_timeout_sec"`
	} `yaml:"browser"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file is not an error; defaults and environment cover
// everything.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Cron.Secret = v
	}
	if v := os.Getenv("CHROME_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "goldwatch.db"
	}
	if cfg.Cron.Secret == "" {
		cfg.Cron.Secret = "your-secret-key-here"
	}
	if cfg.Browser.QuiesceTimeoutSec == 0 {
		cfg.Browser.QuiesceTimeoutSec = 5
	}
	if cfg.Browser.CaptureTimeoutSec == 0 {
		cfg.Browser.CaptureTimeoutSec = 90
	}

	return cfg, nil
}

// QuiesceTimeout is the bounded network-quiescence wait for one capture.
func (c *Config) QuiesceTimeout() time.Duration {
	return time.Duration(c.Browser.QuiesceTimeoutSec) * time.Second
}

// CaptureTimeout bounds one whole capture, browser launch to teardown.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Browser.CaptureTimeoutSec) * time.Second
}
