// Package config resolves the process-wide configuration once at
// startup: defaults, then an optional YAML file, then environment
// variables, in increasing precedence. The result is immutable and
// passed by value into every component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultInferenceBaseURL = "https://api-inference.huggingface.co/models"

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Relay     RelayConfig     `yaml:"relay"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// InferenceConfig configures the primary and fallback generation
// backends and the retry policy across them.
type InferenceConfig struct {
	BaseURL           string   `yaml:"base_url"`
	PrimaryModel      string   `yaml:"primary_model"`
	FallbackModel     string   `yaml:"fallback_model"`
	PrimaryTimeout    Duration `yaml:"primary_timeout"`
	FallbackTimeout   Duration `yaml:"fallback_timeout"`
	MaxPrimaryRetries int      `yaml:"max_primary_retries"`
	BackoffBase       Duration `yaml:"backoff_base"`

	// Token is resolved from the environment only; it never lives in a
	// config file.
	Token string `yaml:"-"`
}

// RelayConfig configures the optional pass-through to a private backend.
type RelayConfig struct {
	BaseURL string `yaml:"base_url"`

	// Secret is resolved from the environment only.
	Secret string `yaml:"-"`
}

// Duration parses YAML duration strings like "12s" or "1500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the baseline configuration before file and
// environment resolution.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8000},
		Inference: InferenceConfig{
			BaseURL:           defaultInferenceBaseURL,
			PrimaryTimeout:    Duration(12 * time.Second),
			FallbackTimeout:   Duration(20 * time.Second),
			MaxPrimaryRetries: 2,
			BackoffBase:       Duration(time.Second),
		},
	}
}

// Load resolves the configuration: defaults, the YAML file at path if
// one is given, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := envInt("CHATGATE_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	envString("HF_INFERENCE_BASE_URL", &cfg.Inference.BaseURL)
	envString("PRIMARY_MODEL", &cfg.Inference.PrimaryModel)
	envString("FALLBACK_MODEL", &cfg.Inference.FallbackModel)
	envString("HF_API_TOKEN", &cfg.Inference.Token)
	if err := envDuration("PRIMARY_TIMEOUT", &cfg.Inference.PrimaryTimeout); err != nil {
		return err
	}
	if err := envDuration("FALLBACK_TIMEOUT", &cfg.Inference.FallbackTimeout); err != nil {
		return err
	}
	if err := envInt("MAX_PRIMARY_RETRIES", &cfg.Inference.MaxPrimaryRetries); err != nil {
		return err
	}
	if err := envDuration("BACKOFF_BASE", &cfg.Inference.BackoffBase); err != nil {
		return err
	}
	envString("COLAB_BASE_URL", &cfg.Relay.BaseURL)
	envString("RELAY_SHARED_SECRET", &cfg.Relay.Secret)
	return nil
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

func envInt(key string, target *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*target = parsed
	return nil
}

func envDuration(key string, target *Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*target = Duration(parsed)
	return nil
}

// Validate performs strict sanity checks on the configuration. A
// missing API token is deliberately not an error here; it only degrades
// primary calls and is logged as a warning at startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Inference.BaseURL) == "" {
		return fmt.Errorf("inference.base_url must be provided")
	}
	if strings.TrimSpace(c.Inference.PrimaryModel) == "" {
		return fmt.Errorf("inference.primary_model must be provided (PRIMARY_MODEL)")
	}
	if strings.TrimSpace(c.Inference.FallbackModel) == "" {
		return fmt.Errorf("inference.fallback_model must be provided (FALLBACK_MODEL)")
	}
	if c.Inference.PrimaryTimeout <= 0 || c.Inference.FallbackTimeout <= 0 {
		return fmt.Errorf("inference timeouts must be positive")
	}
	if c.Inference.MaxPrimaryRetries < 1 {
		return fmt.Errorf("inference.max_primary_retries must be at least 1, got %d", c.Inference.MaxPrimaryRetries)
	}
	if c.Inference.BackoffBase <= 0 {
		return fmt.Errorf("inference.backoff_base must be positive")
	}
	return nil
}
