// Package config loads stylist settings from an optional YAML file, .env
// files, and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes caps a single uploaded image.
const DefaultMaxUploadBytes int64 = 20 << 20

// Config holds every tunable of the stylist binaries.
type Config struct {
	// Model is the Gemini image model. Empty means the client default.
	Model string `yaml:"model"`
	// ValidationModel is used for the startup API key check.
	ValidationModel string `yaml:"validation_model"`

	MaxUploadBytes    int64 `yaml:"max_upload_bytes"`
	MaxInputDimension int   `yaml:"max_input_dimension"`

	// OutputDir receives generated images from the CLI.
	OutputDir string `yaml:"output_dir"`

	Port       int           `yaml:"port"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	// AWS resources. Each feature is off while its name is empty.
	S3Bucket       string `yaml:"s3_bucket"`
	DynamoTable    string `yaml:"dynamo_table"`
	EventBus       string `yaml:"event_bus"`
	SSMAPIKeyParam string `yaml:"ssm_api_key_param"`

	EmitMetrics bool `yaml:"emit_metrics"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxUploadBytes: DefaultMaxUploadBytes,
		OutputDir:      ".",
		Port:           8080,
		SessionTTL:     24 * time.Hour,
	}
}

// envFiles are read in order; values already present in the environment are
// never overwritten.
var envFiles = []string{".env.local", ".env"}

// Load builds the configuration. path names an optional YAML file; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	for _, f := range envFiles {
		// Missing .env files are fine.
		_ = godotenv.Load(f)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Model, "STYLIST_MODEL")
	setString(&c.ValidationModel, "STYLIST_VALIDATION_MODEL")
	setString(&c.OutputDir, "STYLIST_OUTPUT_DIR")
	setString(&c.S3Bucket, "STYLIST_S3_BUCKET")
	setString(&c.DynamoTable, "STYLIST_DYNAMO_TABLE")
	setString(&c.EventBus, "STYLIST_EVENT_BUS")
	setString(&c.SSMAPIKeyParam, "STYLIST_SSM_API_KEY_PARAM")

	if v := os.Getenv("STYLIST_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid STYLIST_MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}
	if v := os.Getenv("STYLIST_MAX_INPUT_DIMENSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STYLIST_MAX_INPUT_DIMENSION %q: %w", v, err)
		}
		c.MaxInputDimension = n
	}
	// PORT is honoured as well for container platforms.
	for _, key := range []string{"PORT", "STYLIST_PORT"} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			c.Port = n
		}
	}
	if v := os.Getenv("STYLIST_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STYLIST_SESSION_TTL %q: %w", v, err)
		}
		c.SessionTTL = d
	}
	if v := os.Getenv("STYLIST_EMIT_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STYLIST_EMIT_METRICS %q: %w", v, err)
		}
		c.EmitMetrics = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects settings no binary can run with.
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxInputDimension < 0 {
		return fmt.Errorf("max_input_dimension must not be negative, got %d", c.MaxInputDimension)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	return nil
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
