// Package reporting forwards operator-relevant failures to an error tracker.
package reporting

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Report describes one failure worth an operator's attention
type Report struct {
	Component string
	Tags      map[string]string
	Extra     map[string]any
}

// Reporter captures failures outside the normal log stream
type Reporter interface {
	Capture(ctx context.Context, err error, report Report)
	Flush(timeout time.Duration)
}

// LogReporter writes reports as structured error logs
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter backed by logger
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Capture(ctx context.Context, err error, report Report) {
	attrs := []any{"component", report.Component, "error", err}
	for k, v := range report.Tags {
		attrs = append(attrs, k, v)
	}
	for k, v := range report.Extra {
		attrs = append(attrs, k, v)
	}
	r.logger.ErrorContext(ctx, "failure reported", attrs...)
}

func (r *LogReporter) Flush(time.Duration) {}

// SentryConfig configures the Sentry reporter
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// SentryReporter sends reports to Sentry and mirrors them to the log
type SentryReporter struct {
	hub *sentry.Hub
	log *LogReporter
}

// NewSentryReporter initializes the Sentry client
func NewSentryReporter(cfg SentryConfig, logger *slog.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: NewLogReporter(logger),
	}, nil
}

func (r *SentryReporter) Capture(ctx context.Context, err error, report Report) {
	r.log.Capture(ctx, err, report)
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", report.Component)
		scope.SetTags(report.Tags)
		for k, v := range report.Extra {
			scope.SetExtra(k, v)
		}
		r.hub.CaptureException(err)
	})
}

func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}

// New returns a Sentry reporter when a DSN is configured and a log reporter otherwise
func New(cfg SentryConfig, logger *slog.Logger) (Reporter, error) {
	if cfg.DSN == "" {
		return NewLogReporter(logger), nil
	}
	return NewSentryReporter(cfg, logger)
}
