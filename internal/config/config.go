// Package config holds the daemon's YAML-driven configuration, grounded on
// the teacher's internal/aider/config.go.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentmemory/memoryd/internal/memory"
)

// StoreConfig holds SQLite storage settings.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
	DBFile  string `yaml:"db_file" json:"db_file"`
}

// EmbeddingConfig holds Embedding Client settings.
type EmbeddingConfig struct {
	Mock     bool   `yaml:"mock" json:"mock"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"api_key" json:"api_key"`
}

// NATSConfig holds embedded-NATS settings.
type NATSConfig struct {
	Port int `yaml:"port" json:"port"`
}

// SchedulerConfig holds the decay-pass scheduler settings.
type SchedulerConfig struct {
	DecayEnabled       bool   `yaml:"decay_enabled" json:"decay_enabled"`
	DecayIntervalHours int    `yaml:"decay_interval_hours" json:"decay_interval_hours"`
	DecayTimeOfDay     string `yaml:"decay_time_of_day" json:"decay_time_of_day"` // "HH:MM", 24h
}

// LLMConfig holds the default LLM provider settings consumed by the
// Settings Resolver as the lowest-precedence fallback.
type LLMConfig struct {
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	Model         string `yaml:"model" json:"model"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	MaxTokens     int    `yaml:"max_tokens" json:"max_tokens"`
	TimeoutMs     int    `yaml:"timeout_ms" json:"timeout_ms"`
	SemanticLevel string `yaml:"semantic_level" json:"semantic_level"`
}

// Config is the root configuration for memoryd.
type Config struct {
	Store     StoreConfig     `yaml:"store" json:"store"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	NATS      NATSConfig      `yaml:"nats" json:"nats"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
}

// DefaultConfig returns the default memoryd configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir: "./data",
			DBFile:  "memory.db",
		},
		Embedding: EmbeddingConfig{
			Mock:     true,
			Endpoint: "https://api.voyageai.com/v1",
			Model:    "voyage-4",
		},
		NATS: NATSConfig{
			Port: 4225,
		},
		Scheduler: SchedulerConfig{
			DecayEnabled:       true,
			DecayIntervalHours: 24,
			DecayTimeOfDay:     "03:00",
		},
		LLM: LLMConfig{
			SemanticLevel: string(memory.SemanticOff),
			TimeoutMs:     15000,
		},
	}
}

// LoadConfig loads configuration from a YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.NATS.Port <= 0 || c.NATS.Port > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.NATS.Port)
	}
	if !c.Embedding.Mock && c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required when embedding.mock is false")
	}
	if c.Scheduler.DecayIntervalHours <= 0 {
		return fmt.Errorf("scheduler.decay_interval_hours must be positive")
	}
	return nil
}
