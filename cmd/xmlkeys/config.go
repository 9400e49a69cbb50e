package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/xmlvault/backend/dynamo"
	"github.com/jacentio/xmlvault/store"
)

// Config is the CLI configuration. Values come from an optional YAML file,
// then the environment; blanks fall back to defaults.
type Config struct {
	// Backend is one of "vault", "dynamodb" or "memory".
	Backend string `yaml:"backend" env:"XMLKEYS_BACKEND"`

	Path  string `yaml:"path" env:"XMLKEYS_PATH"`
	Mount string `yaml:"mount" env:"XMLKEYS_MOUNT"`

	VaultAddr  string `yaml:"vault_addr" env:"VAULT_ADDR"`
	VaultToken string `yaml:"-" env:"VAULT_TOKEN"`

	Table      string `yaml:"table" env:"XMLKEYS_TABLE"`
	AWSProfile string `yaml:"aws_profile" env:"AWS_PROFILE"`

	LogLevel string `yaml:"log_level" env:"XMLKEYS_LOG_LEVEL"`
}

// loadConfig reads the YAML file at path, if any, and overlays the environment.
func loadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.validate()
	return cfg, nil
}

// validate fills blank fields with defaults.
func (c *Config) validate() {
	defaults := store.DefaultConfig()
	if c.Backend == "" {
		c.Backend = "vault"
	}
	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.Mount == "" {
		c.Mount = defaults.Mount
	}
	if c.VaultAddr == "" {
		c.VaultAddr = "http://127.0.0.1:8200"
	}
	if c.Table == "" {
		c.Table = dynamo.DefaultConfig().Table
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// storeConfig returns the repository location.
func (c Config) storeConfig() store.Config {
	return store.Config{Path: c.Path, Mount: c.Mount}
}

// level parses LogLevel, defaulting to info.
func (c Config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
