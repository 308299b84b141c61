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

// DefaultUnknownTierLimit applies when a checkout names a tier missing from the table
const DefaultUnknownTierLimit = 60

// DefaultTierLimits maps tier names to monthly article limits
func DefaultTierLimits() map[string]int {
	return map[string]int{
		string(models.TierFree):         models.FreeMonthlyLimit,
		string(models.TierStarter):      15,
		"tier1":                         15,
		string(models.TierProfessional): 60,
		"tier2":                         60,
		string(models.TierBusiness):     150,
		"tier3":                         150,
		"pro":                           60,
	}
}

// TierTable resolves tier names to monthly limits
type TierTable struct {
	limits   map[string]int
	fallback int
}

// NewTierTable builds a table; a non-positive fallback uses DefaultUnknownTierLimit
func NewTierTable(limits map[string]int, fallback int) TierTable {
	if len(limits) == 0 {
		limits = DefaultTierLimits()
	}
	normalized := make(map[string]int, len(limits))
	for k, v := range limits {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if fallback <= 0 {
		fallback = DefaultUnknownTierLimit
	}
	return TierTable{limits: normalized, fallback: fallback}
}

// Limit returns the monthly limit for tier and whether the tier was known
func (t TierTable) Limit(tier string) (int, bool) {
	limit, ok := t.limits[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return t.fallback, false
	}
	return limit, true
}

// EntitlementService manages per-owner quota
type EntitlementService struct {
	repo   repository.EntitlementRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(repo repository.EntitlementRepository, logger *slog.Logger) *EntitlementService {
	return &EntitlementService{
		repo:   repo,
		logger: logger.With("component", "entitlements"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FirstOfNextMonth returns midnight UTC on the first day of the month after t
func FirstOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Provision creates the free entitlement for a new owner. Existing records are kept.
func (s *EntitlementService) Provision(ctx context.Context, ownerID string) (*models.Entitlement, bool, error) {
	resetAt := FirstOfNextMonth(s.now())
	ent := &models.Entitlement{
		OwnerID:            ownerID,
		Tier:               models.TierFree,
		Monthly:            models.FreeMonthlyLimit,
		ResetAt:            &resetAt,
		SubscriptionStatus: string(models.TierFree),
	}

	created, err := s.repo.CreateEntitlementIfAbsent(ctx, ent)
	if err != nil {
		return nil, false, fmt.Errorf("failed to provision entitlement: %w", err)
	}
	if created {
		s.logger.Info("entitlement provisioned", "owner_id", ownerID, "monthly", ent.Monthly)
		return ent, true, nil
	}

	existing, err := s.repo.GetEntitlement(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load entitlement: %w", err)
	}
	return existing, false, nil
}

// GetQuota returns the owner's current quota position
func (s *EntitlementService) GetQuota(ctx context.Context, ownerID string) (*models.QuotaInfo, error) {
	ent, err := s.repo.GetEntitlement(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	return &models.QuotaInfo{
		OwnerID:            ent.OwnerID,
		Tier:               ent.Tier,
		Used:               ent.Used,
		Monthly:            ent.Monthly,
		Remaining:          ent.Remaining(),
		HasQuota:           ent.Used < ent.Monthly,
		ResetAt:            ent.ResetAt,
		SubscriptionStatus: ent.SubscriptionStatus,
	}, nil
}

// CanAdmit reports whether the owner may start another article
func (s *EntitlementService) CanAdmit(ctx context.Context, ownerID string) (bool, error) {
	quota, err := s.GetQuota(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return quota.HasQuota, nil
}

// RecordUsage counts one completed article
func (s *EntitlementService) RecordUsage(ctx context.Context, ownerID string) error {
	if err := s.repo.IncrementUsage(ctx, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no entitlement for owner %s: %w", ownerID, err)
		}
		return err
	}
	return nil
}
