package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LogLevel string         `yaml:"log_level"`
	LogFile  string         `yaml:"log_file"`
}

type TelegramConfig struct {
	APIID          int           `yaml:"api_id"`
	APIHash        string        `yaml:"api_hash"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	CodeTTL       time.Duration `yaml:"code_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Dir() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		cfgDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(cfgDir, "tgscope")
}

// Load reads the YAML file at path. A missing file is not an error when the
// Telegram credentials come from the environment instead.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv("TELEGRAM_API_ID") != "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_API_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TELEGRAM_API_ID: %w", err)
		}
		c.Telegram.APIID = id
	}
	if v := os.Getenv("TELEGRAM_API_HASH"); v != "" {
		c.Telegram.APIHash = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Path = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Telegram.ConnectTimeout <= 0 {
		c.Telegram.ConnectTimeout = 10 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(Dir(), "tgscope.db")
	}
	if c.Auth.CodeTTL <= 0 {
		c.Auth.CodeTTL = 5 * time.Minute
	}
	if c.Auth.SweepInterval <= 0 {
		c.Auth.SweepInterval = time.Minute
	}
}

// Validate reports missing credentials. Get them at https://my.telegram.org.
func (c *Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return errors.New("telegram.api_id is required")
	}
	if c.Telegram.APIHash == "" {
		return errors.New("telegram.api_hash is required")
	}
	return nil
}
