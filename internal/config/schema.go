package config

import "time"

// Config is the full service configuration shared by the api and worker binaries
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Articles   ArticlesConfig   `yaml:"articles" mapstructure:"articles"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Billing    BillingConfig    `yaml:"billing" mapstructure:"billing"`
	Sentry     SentryConfig     `yaml:"sentry" mapstructure:"sentry"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	AdminToken      string        `yaml:"admin_token" mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DatabaseConfig selects the SQL store
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ArticlesConfig selects where generated articles are kept
type ArticlesConfig struct {
	// Backend is "sql" (the shared database) or "mongo"
	Backend       string `yaml:"backend" mapstructure:"backend"`
	MongoURI      string `yaml:"mongo_uri" mapstructure:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" mapstructure:"mongo_database"`
}

// StorageConfig locates uploaded media
type StorageConfig struct {
	Root      string `yaml:"root" mapstructure:"root"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// GenerationConfig configures the article generation service
type GenerationConfig struct {
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model    string        `yaml:"model" mapstructure:"model"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// QueueConfig holds the task queue tunables
type QueueConfig struct {
	Name                   string        `yaml:"name" mapstructure:"name"`
	MaxAttempts            int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	MinBackoff             time.Duration `yaml:"min_backoff" mapstructure:"min_backoff"`
	MaxBackoff             time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	MaxDoublings           int           `yaml:"max_doublings" mapstructure:"max_doublings"`
	MaxConcurrent          int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxDispatchesPerMinute int           `yaml:"max_dispatches_per_minute" mapstructure:"max_dispatches_per_minute"`
	DispatchDeadline       time.Duration `yaml:"dispatch_deadline" mapstructure:"dispatch_deadline"`
	AttemptTimeout         time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
	LeaseMargin            time.Duration `yaml:"lease_margin" mapstructure:"lease_margin"`
	PollInterval           time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	SweepInterval          time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// BillingConfig configures the payment processor
type BillingConfig struct {
	SecretKey        string         `yaml:"secret_key" mapstructure:"secret_key"`
	WebhookSecret    string         `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration  `yaml:"webhook_tolerance" mapstructure:"webhook_tolerance"`
	Tiers            map[string]int `yaml:"tiers" mapstructure:"tiers"`
	UnknownTierLimit int            `yaml:"unknown_tier_limit" mapstructure:"unknown_tier_limit"`
}

// SentryConfig configures failure reporting; an empty DSN reports to the log only
type SentryConfig struct {
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	Release     string  `yaml:"release" mapstructure:"release"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}
