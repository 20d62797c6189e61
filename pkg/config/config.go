// Package config loads orchestrator settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable settings for the orchestrator and its provider.
type Config struct {
	// Model selects the model name passed to the provider.
	Model string `yaml:"model"`

	// BaseURL overrides the provider API endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url"`

	// MaxIterations caps the number of thinking steps per run.
	MaxIterations int `yaml:"max_iterations"`

	// WallClockBudget caps total data-gathering time per run (e.g. "2m").
	// Zero disables the budget.
	WallClockBudget Duration `yaml:"wall_clock_budget"`

	// ApprovalTimeout is how long a sensitive tool waits for a decision
	// before it is treated as denied.
	ApprovalTimeout Duration `yaml:"approval_timeout"`

	// ToolCallThreshold warns the model once a single tool has been called
	// this many times in one run. Zero disables.
	ToolCallThreshold int `yaml:"tool_call_threshold"`

	// SimilarQueryThreshold warns the model once a tool has been called this
	// many times with near-identical query text. Zero disables.
	SimilarQueryThreshold int `yaml:"similar_query_threshold"`

	// ClearThreshold compacts the executed-calls summary once it grows past
	// this many entries. Zero disables.
	ClearThreshold int `yaml:"clear_threshold"`

	// SensitiveTools are glob patterns of tool names that require approval.
	SensitiveTools []string `yaml:"sensitive_tools"`

	// AutoApprove are glob patterns of tool names that never prompt.
	AutoApprove []string `yaml:"auto_approve"`

	// MemoryDir is where persisted tool outputs are written.
	// Empty defaults to ~/.inquest/memory.
	MemoryDir string `yaml:"memory_dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Model:                 "gpt-4o",
		MaxIterations:         10,
		WallClockBudget:       Duration(5 * time.Minute),
		ApprovalTimeout:       Duration(5 * time.Minute),
		ToolCallThreshold:     6,
		SimilarQueryThreshold: 3,
		ClearThreshold:        20,
	}
}

// DefaultPath returns the default config file location, ~/.inquest/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".inquest", "config.yaml"), nil
}

// Load reads the config file at path, falling back to the default location
// when path is empty. A missing file yields the defaults, not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks for values that would break the run loop.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.WallClockBudget < 0 {
		return fmt.Errorf("wall_clock_budget must not be negative, got %s", c.WallClockBudget)
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approval_timeout must be positive, got %s", c.ApprovalTimeout)
	}
	if c.ToolCallThreshold < 0 || c.SimilarQueryThreshold < 0 || c.ClearThreshold < 0 {
		return fmt.Errorf("call thresholds must not be negative")
	}
	return nil
}

// ResolveMemoryDir returns the configured memory directory, creating the
// default under the user's home when unset.
func (c *Config) ResolveMemoryDir() (string, error) {
	if c.MemoryDir != "" {
		return c.MemoryDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".inquest", "memory"), nil
}
