package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// serverConfig holds the full exportd configuration.
type serverConfig struct {
	Listen       string `yaml:"listen"`
	DBPath       string `yaml:"db_path"`
	DocumentsDir string `yaml:"documents_dir"`
	OutputDir    string `yaml:"output_dir"`
	LogLevel     string `yaml:"log_level"`

	// MCPTransport enables the MCP endpoint: "" (disabled) or "stdio".
	MCPTransport string `yaml:"mcp_transport"`

	CompletedRetentionMinutes int `yaml:"completed_retention_minutes"`
	CancelledRetentionMinutes int `yaml:"cancelled_retention_minutes"`
}

func defaultConfig() *serverConfig {
	return &serverConfig{
		Listen:                    ":8090",
		DBPath:                    "exportd.db",
		DocumentsDir:              "documents",
		OutputDir:                 "exports",
		LogLevel:                  "info",
		CompletedRetentionMinutes: 5,
		CancelledRetentionMinutes: 1,
	}
}

// loadConfig reads and parses a YAML config file over the defaults.
func loadConfig(path string) (*serverConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *serverConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.DocumentsDir == "" {
		return fmt.Errorf("documents_dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.CompletedRetentionMinutes <= 0 {
		return fmt.Errorf("completed_retention_minutes must be > 0")
	}
	if c.CancelledRetentionMinutes <= 0 {
		return fmt.Errorf("cancelled_retention_minutes must be > 0")
	}
	switch c.MCPTransport {
	case "", "stdio":
	default:
		return fmt.Errorf("unsupported mcp_transport %q (use stdio)", c.MCPTransport)
	}
	return nil
}

func (c *serverConfig) completedRetention() time.Duration {
	return time.Duration(c.CompletedRetentionMinutes) * time.Minute
}

func (c *serverConfig) cancelledRetention() time.Duration {
	return time.Duration(c.CancelledRetentionMinutes) * time.Minute
}
