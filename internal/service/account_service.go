package service

import (
	"context"
	"echoscribe/internal/models"
	"echoscribe/internal/repository"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ObjectDeleter removes stored objects under a key prefix
type ObjectDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// DeletionReport summarizes what an account deletion removed
type DeletionReport struct {
	OwnerID               string   `json:"owner_id"`
	SubscriptionsCanceled int      `json:"subscriptions_canceled"`
	JobsDeleted           int64    `json:"jobs_deleted"`
	ArticlesDeleted       int64    `json:"articles_deleted"`
	SubscriptionsDeleted  int64    `json:"subscriptions_deleted"`
	ObjectsDeleted        int      `json:"objects_deleted"`
	EntitlementDeleted    bool     `json:"entitlement_deleted"`
	Errors                []string `json:"errors,omitempty"`
}

// AccountExport is everything stored for one owner
type AccountExport struct {
	OwnerID       string                 `json:"owner_id"`
	Entitlement   *models.Entitlement    `json:"entitlement,omitempty"`
	Subscriptions []*models.Subscription `json:"subscriptions"`
	Jobs          []*models.Job          `json:"jobs"`
	Articles      []*models.Article      `json:"articles"`
	ExportedAt    time.Time              `json:"exported_at"`
}

// AccountService handles owner-level subscription actions, export and deletion
type AccountService struct {
	jobs      repository.JobRepository
	articles  repository.ArticleRepository
	subs      repository.SubscriptionRepository
	ents      repository.EntitlementRepository
	objects   ObjectDeleter
	processor BillingProcessor
	namespace string
	logger    *slog.Logger
}

// NewAccountService creates a new account service
func NewAccountService(
	jobs repository.JobRepository,
	articles repository.ArticleRepository,
	subs repository.SubscriptionRepository,
	ents repository.EntitlementRepository,
	objects ObjectDeleter,
	processor BillingProcessor,
	namespace string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		jobs:      jobs,
		articles:  articles,
		subs:      subs,
		ents:      ents,
		objects:   objects,
		processor: processor,
		namespace: strings.Trim(namespace, "/"),
		logger:    logger.With("component", "accounts"),
	}
}

func isLive(sub *models.Subscription) bool {
	switch sub.Status {
	case models.SubscriptionCanceled, "incomplete_expired":
		return false
	}
	return true
}

// currentSubscription returns the subscription governing the owner's entitlement
func (s *AccountService) currentSubscription(ctx context.Context, ownerID string) (*models.Subscription, error) {
	ent, err := s.ents.GetEntitlement(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSub
		}
		return nil, err
	}
	if ent.SubscriptionID == "" {
		return nil, ErrNoActiveSub
	}
	sub, err := s.subs.GetSubscription(ctx, ent.SubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSub
		}
		return nil, err
	}
	if !isLive(sub) {
		return nil, ErrNoActiveSub
	}
	return sub, nil
}

// CancelAtPeriodEnd schedules the owner's subscription to end with the current period
func (s *AccountService) CancelAtPeriodEnd(ctx context.Context, ownerID string) (*models.Subscription, error) {
	sub, err := s.currentSubscription(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd {
		return nil, ErrAlreadyScheduled
	}
	return s.setCancelAtPeriodEnd(ctx, sub, true)
}

// Reactivate withdraws a scheduled cancellation
func (s *AccountService) Reactivate(ctx context.Context, ownerID string) (*models.Subscription, error) {
	sub, err := s.currentSubscription(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNotScheduled
	}
	return s.setCancelAtPeriodEnd(ctx, sub, false)
}

func (s *AccountService) setCancelAtPeriodEnd(ctx context.Context, sub *models.Subscription, cancel bool) (*models.Subscription, error) {
	state, err := s.processor.SetCancelAtPeriodEnd(ctx, sub.ID, cancel)
	if err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	sub.Status = state.Status
	if !state.PeriodEnd.IsZero() {
		sub.CurrentPeriodStart = state.PeriodStart
		sub.CurrentPeriodEnd = state.PeriodEnd
	}
	if err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	s.logger.Info("cancel at period end updated", "owner_id", sub.OwnerID, "subscription_id", sub.ID, "cancel", cancel)
	return sub, nil
}

// Export collects every record held for the owner
func (s *AccountService) Export(ctx context.Context, ownerID string) (*AccountExport, error) {
	export := &AccountExport{OwnerID: ownerID, ExportedAt: time.Now().UTC()}

	ent, err := s.ents.GetEntitlement(ctx, ownerID)
	switch {
	case err == nil:
		export.Entitlement = ent
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}

	if export.Subscriptions, err = s.subs.ListSubscriptionsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if export.Jobs, err = s.jobs.ListJobsByOwner(ctx, ownerID, ""); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if export.Articles, err = s.articles.ListArticlesByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return export, nil
}

// DeleteAccount cancels live subscriptions and removes the owner's data. Each step
// runs even if an earlier one failed; failures are listed in the report and joined
// into the returned error.
func (s *AccountService) DeleteAccount(ctx context.Context, ownerID string) (*DeletionReport, error) {
	log := s.logger.With("owner_id", ownerID)
	report := &DeletionReport{OwnerID: ownerID}
	var errs []error
	fail := func(step string, err error) {
		log.Error("account deletion step failed", "step", step, "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
	}

	subs, err := s.subs.ListSubscriptionsByOwner(ctx, ownerID)
	if err != nil {
		fail("list subscriptions", err)
	}
	for _, sub := range subs {
		if !isLive(sub) {
			continue
		}
		if err := s.processor.CancelSubscription(ctx, sub.ID); err != nil {
			fail("cancel subscription "+sub.ID, err)
			continue
		}
		report.SubscriptionsCanceled++
	}

	if report.JobsDeleted, err = s.jobs.DeleteJobsByOwner(ctx, ownerID); err != nil {
		fail("delete jobs", err)
	}
	if report.ArticlesDeleted, err = s.articles.DeleteArticlesByOwner(ctx, ownerID); err != nil {
		fail("delete articles", err)
	}
	if report.SubscriptionsDeleted, err = s.subs.DeleteSubscriptionsByOwner(ctx, ownerID); err != nil {
		fail("delete subscriptions", err)
	}
	if report.ObjectsDeleted, err = s.objects.DeletePrefix(ctx, s.namespace+"/"+ownerID+"/"); err != nil {
		fail("delete uploads", err)
	}
	switch err := s.ents.DeleteEntitlement(ctx, ownerID); {
	case err == nil:
		report.EntitlementDeleted = true
	case !errors.Is(err, repository.ErrNotFound):
		fail("delete entitlement", err)
	}

	log.Info("account deleted",
		"subscriptions_canceled", report.SubscriptionsCanceled,
		"jobs", report.JobsDeleted,
		"articles", report.ArticlesDeleted,
		"objects", report.ObjectsDeleted,
		"errors", len(report.Errors),
	)
	return report, errors.Join(errs...)
}
