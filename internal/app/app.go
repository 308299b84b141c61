// Package app wires configuration into stores, services and the HTTP API.
package app

import (
	"context"
	"echoscribe/internal/billing"
	"echoscribe/internal/config"
	"echoscribe/internal/generation"
	"echoscribe/internal/handler"
	"echoscribe/internal/logging"
	"echoscribe/internal/metrics"
	"echoscribe/internal/reporting"
	"echoscribe/internal/repository"
	"echoscribe/internal/service"
	"echoscribe/internal/storage"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// App holds the constructed components of one process
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Reporter reporting.Reporter

	Store    *repository.SQLStore
	Articles repository.ArticleRepository
	Objects  *storage.FSObjectStore

	Jobs         *service.JobService
	Entitlements *service.EntitlementService
	Accounts     *service.AccountService
	Reconciler   *service.Reconciler
	Orchestrator *service.Orchestrator

	closers []func(context.Context) error
}

// New builds every component from cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	return newWithLogger(ctx, cfg, logger)
}

func newWithLogger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(),
	}

	reporter, err := reporting.New(reporting.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reporter: %w", err)
	}
	a.Reporter = reporter
	a.closers = append(a.closers, func(context.Context) error {
		reporter.Flush(2 * time.Second)
		return nil
	})

	store, err := repository.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	switch cfg.Articles.Backend {
	case "mongo":
		articles, err := repository.NewMongoArticleRepository(ctx, cfg.Articles.MongoURI, cfg.Articles.MongoDatabase)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to initialize article store: %w", err)
		}
		a.Articles = articles
		a.closers = append(a.closers, articles.Close)
	default:
		a.Articles = store
	}

	objects, err := storage.NewFSObjectStore(cfg.Storage.Root)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	a.Objects = objects

	processor := billing.NewStripeProcessor(cfg.Billing.SecretKey)
	tiers := service.NewTierTable(cfg.Billing.Tiers, cfg.Billing.UnknownTierLimit)

	a.Jobs = service.NewJobService(store, store, cfg.Storage.Namespace, cfg.Queue.MaxAttempts, a.Metrics, logger)
	a.Entitlements = service.NewEntitlementService(store, logger)
	a.Accounts = service.NewAccountService(store, a.Articles, store, store, objects, processor, cfg.Storage.Namespace, logger)
	a.Reconciler = service.NewReconciler(store, store, store, processor, tiers, reporter, a.Metrics, logger)

	generator := generation.NewClient(generation.ClientConfig{
		Endpoint: cfg.Generation.Endpoint,
		Model:    cfg.Generation.Model,
		APIKey:   cfg.Generation.APIKey,
		Timeout:  cfg.Generation.Timeout,
	})
	a.Orchestrator = service.NewOrchestrator(store, a.Articles, objects, generator, a.Entitlements, reporter, a.Metrics, logger)

	return a, nil
}

// Server returns the HTTP API over the app's services
func (a *App) Server() *handler.Server {
	return handler.NewServer(handler.Deps{
		Jobs:         a.Jobs,
		Entitlements: a.Entitlements,
		Accounts:     a.Accounts,
		Verifier:     billing.NewVerifier(a.Config.Billing.WebhookSecret, a.Config.Billing.WebhookTolerance),
		Reconciler:   a.Reconciler,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
		AdminToken:   a.Config.Server.AdminToken,
	})
}

// Dispatcher returns a task dispatcher feeding the orchestrator
func (a *App) Dispatcher() *service.Dispatcher {
	q := a.Config.Queue
	limiter := service.NewRateLimiter(q.MaxConcurrent, q.MaxDispatchesPerMinute)
	cfg := service.DispatcherConfig{
		Queue:            q.Name,
		Workers:          q.MaxConcurrent,
		PollInterval:     q.PollInterval,
		AttemptTimeout:   q.AttemptTimeout,
		LeaseMargin:      q.LeaseMargin,
		DispatchDeadline: q.DispatchDeadline,
		SweepInterval:    q.SweepInterval,
		Retry: service.RetryPolicy{
			MaxAttempts:  q.MaxAttempts,
			MinBackoff:   q.MinBackoff,
			MaxBackoff:   q.MaxBackoff,
			MaxDoublings: q.MaxDoublings,
		},
	}
	return service.NewDispatcher(a.Store, a.Store, a.Orchestrator, limiter, cfg, a.Reporter, a.Metrics, a.Logger)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
