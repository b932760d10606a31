package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Addr       string           `yaml:"addr"`
	Store      StoreConfig      `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Limits     LimitsConfig     `yaml:"limits"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig selects the grid store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`
}

// GenerationConfig configures the image generator.
type GenerationConfig struct {
	ProjectID   string        `yaml:"project_id"`
	Region      string        `yaml:"region"`
	ImageModel  string        `yaml:"image_model"`
	EditModel   string        `yaml:"edit_model"`
	ImagesDir   string        `yaml:"images_dir"`
	PromptWords int           `yaml:"prompt_words"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LimitsConfig bounds what a single client may submit.
type LimitsConfig struct {
	MaxWordRunes    int     `yaml:"max_word_runes"`
	MaxBatchWords   int     `yaml:"max_batch_words"`
	SubmitPerSecond float64 `yaml:"submit_per_second"`
	SubmitBurst     int     `yaml:"submit_burst"`
	CursorPerSecond float64 `yaml:"cursor_per_second"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8080",
		Store: StoreConfig{
			Driver: "memory",
			Path:   "data/wordgrid.db",
		},
		Generation: GenerationConfig{
			Region:      defaultRegion,
			ImageModel:  defaultImageModel,
			EditModel:   defaultEditModel,
			ImagesDir:   "data/images",
			PromptWords: 200,
			Timeout:     2 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxWordRunes:    50,
			MaxBatchWords:   100,
			SubmitPerSecond: 10,
			SubmitBurst:     20,
			CursorPerSecond: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.Generation.ProjectID = v
	}
	if v := os.Getenv("GCP_REGION"); v != "" {
		c.Generation.Region = v
	}
	if v := os.Getenv("WORDGRID_DB"); v != "" {
		c.Store.Driver = "sqlite"
		c.Store.Path = v
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Limits.MaxWordRunes <= 0 || c.Limits.MaxBatchWords <= 0 {
		return errors.New("limits must be positive")
	}
	if c.Limits.SubmitPerSecond <= 0 || c.Limits.SubmitBurst <= 0 || c.Limits.CursorPerSecond <= 0 {
		return errors.New("rate limits must be positive")
	}
	if c.Generation.PromptWords < 0 {
		return errors.New("generation.prompt_words cannot be negative")
	}
	return nil
}
