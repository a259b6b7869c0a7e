// Copyright 2024-2026 Aiku AI

package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// BotConfig is the process-level configuration loaded from YAML. Per-guild
// behavior lives in the store, not here.
type BotConfig struct {
	// Database is the SQLite path for the config store.
	Database string `yaml:"database"`
	// ListenAddr is the operator HTTP API address. Defaults to ":29330".
	ListenAddr string `yaml:"listen_addr"`
	// CommandPrefix marks messages the mirror engine must not repost.
	CommandPrefix string `yaml:"command_prefix"`
	// LogLevel is a zerolog level string ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

func (c *BotConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig BotConfig
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults after unmarshal.
func (c *BotConfig) PostProcess() error {
	if c.Database == "" {
		return fmt.Errorf("%w: database path must be set", ErrInvalid)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":29330"
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// LoadBotConfig reads and validates a YAML config file.
func LoadBotConfig(path string) (*BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg BotConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
