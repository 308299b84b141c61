package service

import (
	"context"
	"echoscribe/internal/billing"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"echoscribe/internal/reporting"
	"echoscribe/internal/repository"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Outcome classifies how a billing event was folded into local state
type Outcome string

const (
	// OutcomeApplied means local state was updated
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event needs no action
	OutcomeIgnored Outcome = "ignored"
	// OutcomePending means the referenced subscription is not known yet; a later delivery will settle it
	OutcomePending Outcome = "pending"
	// OutcomeInvalid means the event cannot be reconciled as sent
	OutcomeInvalid Outcome = "invalid"
	// OutcomeFailed means a store or processor call failed and the event should be redelivered
	OutcomeFailed Outcome = "failed"
)

// BillingProcessor is the payment processor's subscription API
type BillingProcessor interface {
	GetSubscription(ctx context.Context, id string) (*billing.SubscriptionState, error)
	FindActiveSubscription(ctx context.Context, customerID string) (string, error)
	CancelSubscription(ctx context.Context, id string) error
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*billing.SubscriptionState, error)
}

// invoiceSubscriptionExtractors lists the places an invoice may carry its subscription id,
// in the order they are tried
var invoiceSubscriptionExtractors = []func(*billing.Invoice) string{
	func(inv *billing.Invoice) string { return string(inv.Subscription) },
	func(inv *billing.Invoice) string {
		if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil {
			return ""
		}
		return string(inv.Parent.SubscriptionDetails.Subscription)
	},
	func(inv *billing.Invoice) string {
		if len(inv.Lines.Data) == 0 {
			return ""
		}
		line := inv.Lines.Data[0]
		if line.Parent == nil || line.Parent.SubscriptionItemDetails == nil {
			return ""
		}
		return string(line.Parent.SubscriptionItemDetails.Subscription)
	},
}

// Reconciler folds billing events into the subscription and entitlement stores
type Reconciler struct {
	subs      repository.SubscriptionRepository
	ents      repository.EntitlementRepository
	events    repository.BillingEventLog
	processor BillingProcessor
	tiers     TierTable
	reporter  reporting.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(
	subs repository.SubscriptionRepository,
	ents repository.EntitlementRepository,
	events repository.BillingEventLog,
	processor BillingProcessor,
	tiers TierTable,
	reporter reporting.Reporter,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		subs:      subs,
		ents:      ents,
		events:    events,
		processor: processor,
		tiers:     tiers,
		reporter:  reporter,
		metrics:   metrics,
		logger:    logger.With("component", "reconciler"),
	}
}

// Reconcile applies one verified event and records it in the event log. Every
// handler is safe to run repeatedly on the same event.
func (r *Reconciler) Reconcile(ctx context.Context, evt *billing.Event) (Outcome, error) {
	log := r.logger.With("event_id", evt.ID, "event_type", evt.Type, "event_created", evt.Created)

	var outcome Outcome
	var err error
	switch evt.Type {
	case billing.EventCheckoutCompleted:
		outcome, err = r.checkoutCompleted(ctx, evt, log)
	case billing.EventInvoicePaid, billing.EventInvoicePaymentSucceeded:
		outcome, err = r.invoicePaid(ctx, evt, log)
	case billing.EventSubscriptionUpdated:
		outcome, err = r.subscriptionUpdated(ctx, evt, log)
	case billing.EventSubscriptionDeleted:
		outcome, err = r.subscriptionDeleted(ctx, evt, log)
	default:
		log.Debug("unhandled event type")
		outcome = OutcomeIgnored
	}
	if err != nil && outcome == "" {
		outcome = OutcomeFailed
	}

	r.metrics.IncrementBillingOutcome(string(outcome))
	r.record(ctx, evt, outcome, err)

	if err != nil && outcome == OutcomeFailed {
		log.Error("billing event failed", "error", err)
		r.reporter.Capture(ctx, err, reporting.Report{
			Component: "reconciler",
			Tags:      map[string]string{"event_id": evt.ID, "event_type": evt.Type},
		})
	} else if err != nil {
		log.Warn("malformed billing event", "error", err)
	} else {
		log.Info("billing event reconciled", "outcome", outcome)
	}
	return outcome, err
}

// Replay re-runs a recorded event through the reconciler
func (r *Reconciler) Replay(ctx context.Context, eventID string) (Outcome, error) {
	stored, err := r.events.GetEvent(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("failed to load billing event: %w", err)
	}
	evt, err := billing.ParseEvent(stored.Payload)
	if err != nil {
		return OutcomeInvalid, err
	}
	return r.Reconcile(ctx, evt)
}

func (r *Reconciler) record(ctx context.Context, evt *billing.Event, outcome Outcome, procErr error) {
	if evt.ID == "" {
		return
	}
	entry := &models.BillingEvent{
		ID:      evt.ID,
		Type:    evt.Type,
		Payload: evt.Payload,
		Outcome: string(outcome),
	}
	if procErr != nil {
		entry.Error = procErr.Error()
	}
	if err := r.events.RecordEvent(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("failed to record billing event", "event_id", evt.ID, "error", err)
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, evt *billing.Event, log *slog.Logger) (Outcome, error) {
	var session billing.CheckoutSession
	if err := evt.Decode(&session); err != nil {
		return OutcomeInvalid, err
	}

	ownerID := firstNonEmpty(
		session.Metadata["ownerId"],
		session.Metadata["userId"],
		evt.Metadata["ownerId"],
		evt.Metadata["userId"],
		session.ClientReferenceID,
	)
	tier := firstNonEmpty(session.Metadata["tier"], evt.Metadata["tier"])
	subID := string(session.Subscription)
	if ownerID == "" || tier == "" || subID == "" {
		log.Warn("checkout missing owner, tier or subscription", "owner_id", ownerID, "tier", tier, "subscription_id", subID)
		return OutcomeInvalid, nil
	}

	limit, known := r.tiers.Limit(tier)
	if !known {
		log.Warn("unknown tier, using default limit", "tier", tier, "monthly", limit)
	}

	state, err := r.processor.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	customerID := string(session.Customer)
	if customerID == "" {
		customerID = state.CustomerID
	}
	sub := &models.Subscription{
		ID:                 subID,
		OwnerID:            ownerID,
		CustomerID:         customerID,
		Status:             state.Status,
		Tier:               models.Tier(tier),
		CurrentPeriodStart: state.PeriodStart,
		CurrentPeriodEnd:   state.PeriodEnd,
		CancelAtPeriodEnd:  state.CancelAtPeriodEnd,
	}
	if err := r.subs.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}

	ent, err := r.loadEntitlement(ctx, ownerID)
	if err != nil {
		return "", err
	}
	resetAt := state.PeriodEnd
	ent.Tier = models.Tier(tier)
	ent.Monthly = limit
	ent.Used = 0
	ent.ResetAt = &resetAt
	ent.SubscriptionStatus = state.Status
	ent.SubscriptionID = subID
	ent.CustomerID = customerID
	if err := r.ents.UpsertEntitlement(ctx, ent); err != nil {
		return "", err
	}

	log.Info("subscription started", "owner_id", ownerID, "subscription_id", subID, "tier", tier, "monthly", limit)
	return OutcomeApplied, nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, evt *billing.Event, log *slog.Logger) (Outcome, error) {
	var invoice billing.Invoice
	if err := evt.Decode(&invoice); err != nil {
		return OutcomeInvalid, err
	}

	subID := ""
	for _, extract := range invoiceSubscriptionExtractors {
		if subID = extract(&invoice); subID != "" {
			break
		}
	}
	if subID == "" && invoice.Customer != "" {
		found, err := r.processor.FindActiveSubscription(ctx, string(invoice.Customer))
		if err != nil {
			return "", err
		}
		subID = found
	}
	if subID == "" {
		log.Info("invoice carries no subscription", "invoice_id", invoice.ID)
		return OutcomeIgnored, nil
	}

	sub, err := r.subs.GetSubscription(ctx, subID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("subscription not recorded yet, waiting for checkout", "subscription_id", subID)
			return OutcomePending, nil
		}
		return "", err
	}
	if sub.Status == models.SubscriptionCanceled {
		log.Info("subscription already canceled, invoice ignored", "subscription_id", subID)
		return OutcomeIgnored, nil
	}

	state, err := r.processor.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Status = state.Status
	sub.CurrentPeriodStart = state.PeriodStart
	sub.CurrentPeriodEnd = state.PeriodEnd
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if err := r.subs.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}

	ent, err := r.loadEntitlement(ctx, sub.OwnerID)
	if err != nil {
		return "", err
	}
	if !governs(ent, sub) {
		log.Info("subscription superseded, entitlement left unchanged", "subscription_id", subID, "current", ent.SubscriptionID)
		return OutcomeApplied, nil
	}

	limit, known := r.tiers.Limit(string(sub.Tier))
	if !known {
		log.Warn("unknown tier, using default limit", "tier", sub.Tier, "monthly", limit)
	}
	advanced := periodAdvanced(ent, state.PeriodEnd)
	ent.Tier = sub.Tier
	ent.Monthly = limit
	ent.SubscriptionStatus = state.Status
	ent.SubscriptionID = sub.ID
	if advanced {
		resetAt := state.PeriodEnd
		ent.ResetAt = &resetAt
		ent.Used = 0
	}
	if err := r.ents.UpsertEntitlement(ctx, ent); err != nil {
		return "", err
	}

	log.Info("invoice applied", "owner_id", sub.OwnerID, "subscription_id", subID, "period_advanced", advanced)
	return OutcomeApplied, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, evt *billing.Event, log *slog.Logger) (Outcome, error) {
	var obj billing.Subscription
	if err := evt.Decode(&obj); err != nil {
		return OutcomeInvalid, err
	}
	if obj.ID == "" {
		return OutcomeInvalid, fmt.Errorf("%w: subscription without id", billing.ErrMalformedEvent)
	}
	state := obj.State()

	sub, err := r.subs.GetSubscription(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("subscription not recorded yet, skipping update", "subscription_id", obj.ID)
			return OutcomePending, nil
		}
		return "", err
	}
	if sub.Status == models.SubscriptionCanceled {
		log.Info("subscription already canceled, update ignored", "subscription_id", sub.ID)
		return OutcomeIgnored, nil
	}

	sub.Status = state.Status
	sub.CurrentPeriodStart = state.PeriodStart
	sub.CurrentPeriodEnd = state.PeriodEnd
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if err := r.subs.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}

	ent, err := r.loadEntitlement(ctx, sub.OwnerID)
	if err != nil {
		return "", err
	}
	if !governs(ent, sub) {
		log.Info("subscription superseded, entitlement left unchanged", "subscription_id", sub.ID, "current", ent.SubscriptionID)
		return OutcomeApplied, nil
	}

	reset := periodAdvanced(ent, state.PeriodEnd)
	ent.SubscriptionStatus = state.Status
	ent.SubscriptionID = sub.ID
	if reset {
		resetAt := state.PeriodEnd
		ent.ResetAt = &resetAt
		ent.Used = 0
	}
	if err := r.ents.UpsertEntitlement(ctx, ent); err != nil {
		return "", err
	}

	log.Info("subscription updated", "owner_id", sub.OwnerID, "subscription_id", sub.ID, "status", state.Status, "quota_reset", reset)
	return OutcomeApplied, nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, evt *billing.Event, log *slog.Logger) (Outcome, error) {
	var obj billing.Subscription
	if err := evt.Decode(&obj); err != nil {
		return OutcomeInvalid, err
	}
	if obj.ID == "" {
		return OutcomeInvalid, fmt.Errorf("%w: subscription without id", billing.ErrMalformedEvent)
	}

	sub, err := r.subs.GetSubscription(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("subscription not recorded yet, skipping deletion", "subscription_id", obj.ID)
			return OutcomePending, nil
		}
		return "", err
	}
	if sub.Status == models.SubscriptionCanceled {
		log.Info("subscription already canceled", "subscription_id", sub.ID)
		return OutcomeIgnored, nil
	}

	// revert the entitlement before the record turns terminal; a redelivery
	// after a partial failure must still reach it
	ent, err := r.loadEntitlement(ctx, sub.OwnerID)
	if err != nil {
		return "", err
	}
	if governs(ent, sub) {
		ent.Tier = models.TierFree
		ent.Monthly = models.FreeMonthlyLimit
		ent.Used = 0
		ent.SubscriptionStatus = models.SubscriptionCanceled
		ent.SubscriptionID = ""
		if err := r.ents.UpsertEntitlement(ctx, ent); err != nil {
			return "", err
		}
		log.Info("reverted to free tier", "owner_id", sub.OwnerID)
	} else {
		log.Info("subscription superseded, entitlement left unchanged", "subscription_id", sub.ID, "current", ent.SubscriptionID)
	}

	sub.Status = models.SubscriptionCanceled
	if err := r.subs.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}

	log.Info("subscription canceled", "owner_id", sub.OwnerID, "subscription_id", sub.ID)
	return OutcomeApplied, nil
}

// loadEntitlement returns the owner's entitlement or a fresh record to upsert
func (r *Reconciler) loadEntitlement(ctx context.Context, ownerID string) (*models.Entitlement, error) {
	ent, err := r.ents.GetEntitlement(ctx, ownerID)
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return &models.Entitlement{
		OwnerID:            ownerID,
		Tier:               models.TierFree,
		Monthly:            models.FreeMonthlyLimit,
		SubscriptionStatus: string(models.TierFree),
	}, nil
}

// governs reports whether sub is the subscription the entitlement currently follows.
// The most recent checkout takes over the entitlement, so events for older
// subscriptions only update their own record.
func governs(ent *models.Entitlement, sub *models.Subscription) bool {
	return ent.SubscriptionID == "" || ent.SubscriptionID == sub.ID
}

// periodAdvanced reports whether periodEnd starts a new billing period for ent
func periodAdvanced(ent *models.Entitlement, periodEnd time.Time) bool {
	return ent.ResetAt == nil || periodEnd.After(*ent.ResetAt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
