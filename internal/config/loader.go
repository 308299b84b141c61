// Package config loads service configuration from defaults, an optional YAML
// file and ECHOSCRIBE_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ECHOSCRIBE_DATABASE_DSN
const EnvPrefix = "ECHOSCRIBE"

const redacted = "[redacted]"

// Load reads configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Articles.Backend {
	case "sql":
	case "mongo":
		if c.Articles.MongoURI == "" || c.Articles.MongoDatabase == "" {
			return fmt.Errorf("articles.mongo_uri and articles.mongo_database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unsupported articles backend %q", c.Articles.Backend)
	}

	if strings.Trim(c.Storage.Namespace, "/") == "" {
		return fmt.Errorf("storage.namespace is required")
	}

	q := c.Queue
	if q.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if q.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if q.MinBackoff <= 0 || q.MaxBackoff < q.MinBackoff {
		return fmt.Errorf("queue backoff must satisfy 0 < min_backoff <= max_backoff")
	}
	if q.MaxDoublings < 0 {
		return fmt.Errorf("queue.max_doublings must not be negative")
	}
	if q.AttemptTimeout <= 0 || q.DispatchDeadline <= 0 {
		return fmt.Errorf("queue.attempt_timeout and queue.dispatch_deadline must be positive")
	}
	if q.PollInterval <= 0 || q.SweepInterval <= 0 {
		return fmt.Errorf("queue.poll_interval and queue.sweep_interval must be positive")
	}
	return nil
}

// Redacted returns a copy with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Server.AdminToken)
	mask(&out.Generation.APIKey)
	mask(&out.Billing.SecretKey)
	mask(&out.Billing.WebhookSecret)
	mask(&out.Sentry.DSN)
	return &out
}

// Show writes the effective configuration as YAML with secrets masked
func (c *Config) Show(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
