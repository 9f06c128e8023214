// Package config loads service configuration.
//
// Sources are layered: built-in defaults, then an optional YAML file, then
// SADHANA_* environment variables. Command-line flags are applied last by
// the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "SADHANA_"

// Config is the full service configuration.
type Config struct {
	DBPath   string `yaml:"db_path" env:"DB_PATH"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
	// LineagesFile optionally replaces the built-in lineage registry with
	// a CUE document.
	LineagesFile string        `yaml:"lineages_file" env:"LINEAGES_FILE"`
	Scorer       ScorerConfig  `yaml:"scorer" envPrefix:"SCORER_"`
	Webhook      WebhookConfig `yaml:"webhook" envPrefix:"WEBHOOK_"`
}

// ScorerConfig configures the external scorer. With Enabled set and no
// APIKey the service still runs; every decision falls back to the rules.
type ScorerConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Model   string        `yaml:"model" env:"MODEL"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WebhookConfig configures delivery retries.
type WebhookConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"BASE_BACKOFF"`
	BatchSize   int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:   "sadhana.db",
		HTTPAddr: ":8080",
		Scorer: ScorerConfig{
			Model:   "gpt-4o-mini",
			Timeout: 4 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxAttempts: 3,
			BaseBackoff: 5 * time.Second,
			BatchSize:   100,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the given environment. A nil environ reads the
// process environment.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.Scorer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scorer.timeout must be positive, got %s", c.Scorer.Timeout))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("webhook.max_attempts must be at least 1, got %d", c.Webhook.MaxAttempts))
	}
	if c.Webhook.BaseBackoff <= 0 {
		errs = append(errs, fmt.Errorf("webhook.base_backoff must be positive, got %s", c.Webhook.BaseBackoff))
	}
	if c.Webhook.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("webhook.batch_size must be at least 1, got %d", c.Webhook.BatchSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Active reports whether a scorer client should be built.
func (c ScorerConfig) Active() bool {
	return c.Enabled && c.APIKey != ""
}
