package config

import (
	"time"

	"github.com/spf13/viper"
)

// defaults lists every key so environment overrides apply even without a config file
var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.admin_token":      "",
	"server.shutdown_timeout": 15 * time.Second,

	"log.level":  "info",
	"log.format": "text",

	"database.driver": "sqlite3",
	"database.dsn":    "echoscribe.db",

	"articles.backend":        "sql",
	"articles.mongo_uri":      "mongodb://localhost:27017",
	"articles.mongo_database": "echoscribe",

	"storage.root":      "data/uploads",
	"storage.namespace": "podcasts",

	"generation.endpoint": "https://generativelanguage.googleapis.com/v1beta",
	"generation.model":    "gemini-2.5-flash",
	"generation.api_key":  "",
	"generation.timeout":  10 * time.Minute,

	"queue.name":                      "articles",
	"queue.max_attempts":              5,
	"queue.min_backoff":               60 * time.Second,
	"queue.max_backoff":               3600 * time.Second,
	"queue.max_doublings":             3,
	"queue.max_concurrent":            3,
	"queue.max_dispatches_per_minute": 0,
	"queue.dispatch_deadline":         1800 * time.Second,
	"queue.attempt_timeout":           3600 * time.Second,
	"queue.lease_margin":              time.Minute,
	"queue.poll_interval":             time.Second,
	"queue.sweep_interval":            time.Minute,

	"billing.secret_key":         "",
	"billing.webhook_secret":     "",
	"billing.webhook_tolerance":  5 * time.Minute,
	"billing.unknown_tier_limit": 60,
	"billing.tiers": map[string]int{
		"free":         3,
		"starter":      15,
		"tier1":        15,
		"professional": 60,
		"tier2":        60,
		"business":     150,
		"tier3":        150,
		"pro":          60,
	},

	"sentry.dsn":         "",
	"sentry.environment": "development",
	"sentry.release":     "",
	"sentry.sample_rate": 1.0,
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
