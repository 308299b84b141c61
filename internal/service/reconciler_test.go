package service

import (
	"context"
	"echoscribe/internal/billing"
	"echoscribe/internal/logging"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var (
	periodStart = time.Unix(1700000000, 0).UTC()
	periodEnd   = time.Unix(1702592000, 0).UTC()
	nextEnd     = time.Unix(1705270400, 0).UTC()
)

type reconcilerFixture struct {
	subs      *mockSubscriptionRepository
	ents      *mockEntitlementRepository
	events    *mockEventLog
	processor *mockBillingProcessor
	metrics   *metrics.Metrics
	rec       *Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		subs:      newMockSubscriptionRepository(),
		ents:      newMockEntitlementRepository(),
		events:    newMockEventLog(),
		processor: newMockBillingProcessor(),
		metrics:   metrics.NewMetrics(),
	}
	f.rec = NewReconciler(f.subs, f.ents, f.events, f.processor, NewTierTable(nil, 0), &mockReporter{}, f.metrics, logging.Discard())
	return f
}

// seedSubscription stores sub_1 for owner-1 on the professional tier with used articles
func (f *reconcilerFixture) seedSubscription(used int, resetAt time.Time) {
	f.subs.subs["sub_1"] = &models.Subscription{
		ID:                 "sub_1",
		OwnerID:            "owner-1",
		CustomerID:         "cus_1",
		Status:             models.SubscriptionActive,
		Tier:               models.TierProfessional,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	}
	f.ents.entitlements["owner-1"] = &models.Entitlement{
		OwnerID:            "owner-1",
		Tier:               models.TierProfessional,
		Monthly:            60,
		Used:               used,
		ResetAt:            &resetAt,
		SubscriptionStatus: models.SubscriptionActive,
		SubscriptionID:     "sub_1",
		CustomerID:         "cus_1",
	}
}

func newEvent(t *testing.T, id, eventType string, object any) *billing.Event {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": 1700000000,
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	evt, err := billing.ParseEvent(payload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return evt
}

func checkoutObject(metadata map[string]string) map[string]any {
	return map[string]any{
		"id":           "cs_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata":     metadata,
	}
}

func TestReconciler_CheckoutCompleted(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_1"] = &billing.SubscriptionState{
		ID: "sub_1", CustomerID: "cus_1", Status: "active", PeriodStart: periodStart, PeriodEnd: periodEnd,
	}
	resetAt := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	f.ents.entitlements["owner-1"] = &models.Entitlement{
		OwnerID: "owner-1", Tier: models.TierFree, Monthly: 3, Used: 2, LifetimeUsed: 2, ResetAt: &resetAt,
	}

	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"ownerId": "owner-1", "tier": "professional"}))

	for i := 0; i < 2; i++ {
		outcome, err := f.rec.Reconcile(context.Background(), evt)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if outcome != OutcomeApplied {
			t.Fatalf("expected applied, got %s", outcome)
		}

		ent := f.ents.entitlements["owner-1"]
		if ent.Tier != models.TierProfessional || ent.Monthly != 60 || ent.Used != 0 {
			t.Errorf("delivery %d: unexpected entitlement %+v", i+1, ent)
		}
		if ent.ResetAt == nil || !ent.ResetAt.Equal(periodEnd) {
			t.Errorf("delivery %d: expected reset at %v, got %v", i+1, periodEnd, ent.ResetAt)
		}
		if ent.SubscriptionID != "sub_1" || ent.SubscriptionStatus != "active" {
			t.Errorf("delivery %d: unexpected subscription fields %+v", i+1, ent)
		}
		if ent.LifetimeUsed != 2 {
			t.Errorf("delivery %d: expected lifetime used to be kept, got %d", i+1, ent.LifetimeUsed)
		}
	}

	sub := f.subs.subs["sub_1"]
	if sub == nil {
		t.Fatal("expected subscription to be recorded")
	}
	if sub.OwnerID != "owner-1" || sub.Tier != models.TierProfessional || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("unexpected subscription %+v", sub)
	}
	if len(f.subs.subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(f.subs.subs))
	}
	if got := f.events.events["evt_1"].Deliveries; got != 2 {
		t.Errorf("expected 2 deliveries logged, got %d", got)
	}
	if got := f.metrics.GetSnapshot()["billing_applied"]; got != 2 {
		t.Errorf("expected 2 applied outcomes, got %d", got)
	}
}

func TestReconciler_CheckoutFallsBackToUserID(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodEnd: periodEnd}

	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"userId": "owner-9", "tier": "starter"}))
	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if ent := f.ents.entitlements["owner-9"]; ent == nil || ent.Monthly != 15 {
		t.Errorf("expected starter entitlement for owner-9, got %+v", ent)
	}
}

func TestReconciler_CheckoutEnvelopeMetadata(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_9"] = &billing.SubscriptionState{ID: "sub_9", Status: "active", PeriodEnd: periodEnd}

	payload := `{"id":"evt_9","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_9","customer":"cus_9","subscription":"sub_9"}},` +
		`"metadata":{"ownerId":"owner-9","tier":"tier2"}}`
	evt, err := billing.ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	ent := f.ents.entitlements["owner-9"]
	if ent == nil {
		t.Fatal("expected entitlement for owner-9")
	}
	if ent.Tier != "tier2" || ent.Monthly != 60 || ent.SubscriptionID != "sub_9" {
		t.Errorf("unexpected entitlement %+v", ent)
	}
	if sub := f.subs.subs["sub_9"]; sub == nil || sub.OwnerID != "owner-9" {
		t.Errorf("expected sub_9 recorded for owner-9, got %+v", sub)
	}
}

func TestReconciler_CheckoutClientReferenceOwner(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodEnd: periodEnd}

	object := checkoutObject(map[string]string{"tier": "starter"})
	object["client_reference_id"] = "owner-7"
	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, object)

	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if ent := f.ents.entitlements["owner-7"]; ent == nil || ent.Monthly != 15 {
		t.Errorf("expected starter entitlement for owner-7, got %+v", ent)
	}
}

func TestReconciler_CheckoutUnknownTierUsesDefault(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodEnd: periodEnd}

	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"ownerId": "owner-1", "tier": "enterprise"}))
	if _, err := f.rec.Reconcile(context.Background(), evt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := f.ents.entitlements["owner-1"].Monthly; got != DefaultUnknownTierLimit {
		t.Errorf("expected monthly %d, got %d", DefaultUnknownTierLimit, got)
	}
}

func TestReconciler_CheckoutMissingMetadata(t *testing.T) {
	f := newReconcilerFixture()

	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"ownerId": "owner-1"}))
	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeInvalid {
		t.Errorf("expected invalid, got %s", outcome)
	}
	if len(f.subs.subs) != 0 || len(f.ents.entitlements) != 0 {
		t.Error("expected no state changes")
	}
	if f.events.events["evt_1"].Outcome != string(OutcomeInvalid) {
		t.Errorf("expected logged outcome invalid, got %s", f.events.events["evt_1"].Outcome)
	}
}

func TestReconciler_CheckoutProcessorFailure(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.getError = errors.New("processor unavailable")

	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"ownerId": "owner-1", "tier": "starter"}))
	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome != OutcomeFailed {
		t.Errorf("expected failed, got %s", outcome)
	}
	if len(f.ents.entitlements) != 0 {
		t.Error("expected no entitlement changes")
	}
}

func TestReconciler_InvoiceBeforeCheckoutIsPending(t *testing.T) {
	f := newReconcilerFixture()

	evt := newEvent(t, "evt_2", billing.EventInvoicePaid, map[string]any{"id": "in_1", "customer": "cus_1", "subscription": "sub_1"})
	outcome, err := f.rec.Reconcile(context.Background(), evt)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomePending {
		t.Errorf("expected pending, got %s", outcome)
	}
	if len(f.ents.entitlements) != 0 {
		t.Error("expected no entitlement changes")
	}
}

func TestReconciler_InvoiceSubscriptionLocations(t *testing.T) {
	tests := []struct {
		name   string
		object map[string]any
		active string
	}{
		{
			name:   "parent subscription details",
			object: map[string]any{"id": "in_1", "parent": map[string]any{"subscription_details": map[string]any{"subscription": "sub_1"}}},
		},
		{
			name: "first line item",
			object: map[string]any{"id": "in_1", "lines": map[string]any{"data": []any{
				map[string]any{"parent": map[string]any{"subscription_item_details": map[string]any{"subscription": map[string]any{"id": "sub_1"}}}},
			}}},
		},
		{
			name:   "customer lookup",
			object: map[string]any{"id": "in_1", "customer": "cus_1"},
			active: "sub_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture()
			f.seedSubscription(40, periodEnd)
			f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodStart: periodEnd, PeriodEnd: nextEnd}
			if tt.active != "" {
				f.processor.activeByCust["cus_1"] = tt.active
			}

			outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_3", billing.EventInvoicePaymentSucceeded, tt.object))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if outcome != OutcomeApplied {
				t.Fatalf("expected applied, got %s", outcome)
			}
			ent := f.ents.entitlements["owner-1"]
			if ent.Used != 0 {
				t.Errorf("expected used reset to 0, got %d", ent.Used)
			}
			if !ent.ResetAt.Equal(nextEnd) {
				t.Errorf("expected reset at %v, got %v", nextEnd, ent.ResetAt)
			}
			if !f.subs.subs["sub_1"].CurrentPeriodEnd.Equal(nextEnd) {
				t.Error("expected subscription period to advance")
			}
		})
	}
}

func TestReconciler_InvoiceSamePeriodKeepsUsage(t *testing.T) {
	f := newReconcilerFixture()
	f.seedSubscription(40, periodEnd)
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodStart: periodStart, PeriodEnd: periodEnd}

	evt := newEvent(t, "evt_3", billing.EventInvoicePaid, map[string]any{"id": "in_1", "subscription": "sub_1"})
	if _, err := f.rec.Reconcile(context.Background(), evt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := f.ents.entitlements["owner-1"].Used; got != 40 {
		t.Errorf("expected used 40, got %d", got)
	}
}

func TestReconciler_InvoiceWithoutSubscriptionIsIgnored(t *testing.T) {
	f := newReconcilerFixture()

	outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_4", billing.EventInvoicePaid, map[string]any{"id": "in_1"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("expected ignored, got %s", outcome)
	}
}

func subscriptionObject(status string, end time.Time) map[string]any {
	return map[string]any{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               status,
		"current_period_start": periodStart.Unix(),
		"current_period_end":   end.Unix(),
	}
}

func TestReconciler_SubscriptionUpdatedWithoutNewPeriod(t *testing.T) {
	for _, end := range []time.Time{periodStart, nextEnd} {
		f := newReconcilerFixture()
		f.seedSubscription(10, nextEnd)

		outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_5", billing.EventSubscriptionUpdated, subscriptionObject("past_due", end)))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if outcome != OutcomeApplied {
			t.Fatalf("expected applied, got %s", outcome)
		}
		ent := f.ents.entitlements["owner-1"]
		if ent.Used != 10 {
			t.Errorf("period end %v: expected used 10, got %d", end, ent.Used)
		}
		if ent.SubscriptionStatus != "past_due" {
			t.Errorf("period end %v: expected status past_due, got %s", end, ent.SubscriptionStatus)
		}
		if !ent.ResetAt.Equal(nextEnd) {
			t.Errorf("period end %v: expected reset at to stay %v, got %v", end, nextEnd, ent.ResetAt)
		}
		if f.subs.subs["sub_1"].Status != "past_due" {
			t.Errorf("period end %v: expected subscription status past_due", end)
		}
	}
}

func TestReconciler_SubscriptionUpdatedNewPeriodFromItems(t *testing.T) {
	f := newReconcilerFixture()
	f.seedSubscription(10, periodEnd)

	object := map[string]any{
		"id":     "sub_1",
		"status": "active",
		"items": map[string]any{"data": []any{
			map[string]any{"current_period_start": periodEnd.Unix(), "current_period_end": nextEnd.Unix()},
		}},
	}
	if _, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_6", billing.EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ent := f.ents.entitlements["owner-1"]
	if ent.Used != 0 {
		t.Errorf("expected used reset to 0, got %d", ent.Used)
	}
	if !ent.ResetAt.Equal(nextEnd) {
		t.Errorf("expected reset at %v, got %v", nextEnd, ent.ResetAt)
	}
}

func TestReconciler_SubscriptionUpdatedUnknownIsPending(t *testing.T) {
	f := newReconcilerFixture()

	outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_7", billing.EventSubscriptionUpdated, subscriptionObject("active", nextEnd)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomePending {
		t.Errorf("expected pending, got %s", outcome)
	}
}

func TestReconciler_SubscriptionDeleted(t *testing.T) {
	f := newReconcilerFixture()
	f.seedSubscription(20, periodEnd)

	outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_8", billing.EventSubscriptionDeleted, subscriptionObject("canceled", periodEnd)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	ent := f.ents.entitlements["owner-1"]
	if ent.Tier != models.TierFree || ent.Monthly != models.FreeMonthlyLimit || ent.Used != 0 {
		t.Errorf("expected free entitlement, got %+v", ent)
	}
	if ent.SubscriptionStatus != models.SubscriptionCanceled {
		t.Errorf("expected status canceled, got %s", ent.SubscriptionStatus)
	}
	if f.subs.subs["sub_1"].Status != models.SubscriptionCanceled {
		t.Errorf("expected subscription canceled, got %s", f.subs.subs["sub_1"].Status)
	}
	if ent.SubscriptionID != "" {
		t.Errorf("expected subscription id cleared, got %s", ent.SubscriptionID)
	}
}

func TestReconciler_CanceledSubscriptionStaysCanceled(t *testing.T) {
	f := newReconcilerFixture()
	f.seedSubscription(20, periodEnd)
	ctx := context.Background()

	if _, err := f.rec.Reconcile(ctx, newEvent(t, "evt_8", billing.EventSubscriptionDeleted, subscriptionObject("canceled", periodEnd))); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// free-tier usage after the revert
	f.ents.entitlements["owner-1"].Used = 1

	late := []*billing.Event{
		newEvent(t, "evt_7", billing.EventSubscriptionUpdated, subscriptionObject("active", nextEnd)),
		newEvent(t, "evt_6", billing.EventInvoicePaid, map[string]any{"id": "in_1", "customer": "cus_1", "subscription": "sub_1"}),
		newEvent(t, "evt_8", billing.EventSubscriptionDeleted, subscriptionObject("canceled", periodEnd)),
	}
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodEnd: nextEnd}

	for _, evt := range late {
		outcome, err := f.rec.Reconcile(ctx, evt)
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", evt.Type, err)
		}
		if outcome != OutcomeIgnored {
			t.Errorf("%s: expected ignored, got %s", evt.Type, outcome)
		}
	}

	ent := f.ents.entitlements["owner-1"]
	if ent.Tier != models.TierFree || ent.SubscriptionStatus != models.SubscriptionCanceled {
		t.Errorf("expected free canceled entitlement, got %+v", ent)
	}
	if ent.Used != 1 {
		t.Errorf("expected free usage kept, got %d", ent.Used)
	}
	if f.subs.subs["sub_1"].Status != models.SubscriptionCanceled {
		t.Errorf("expected subscription to stay canceled, got %s", f.subs.subs["sub_1"].Status)
	}
}

func TestReconciler_DeletedSupersededSubscriptionKeepsEntitlement(t *testing.T) {
	f := newReconcilerFixture()
	f.seedSubscription(20, periodEnd)
	f.ents.entitlements["owner-1"].SubscriptionID = "sub_2"

	if _, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_9", billing.EventSubscriptionDeleted, subscriptionObject("canceled", periodEnd))); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ent := f.ents.entitlements["owner-1"]
	if ent.Tier != models.TierProfessional || ent.Used != 20 {
		t.Errorf("expected entitlement unchanged, got %+v", ent)
	}
	if f.subs.subs["sub_1"].Status != models.SubscriptionCanceled {
		t.Error("expected old subscription to be canceled")
	}
}

func TestReconciler_UnhandledTypeIsIgnored(t *testing.T) {
	f := newReconcilerFixture()

	outcome, err := f.rec.Reconcile(context.Background(), newEvent(t, "evt_10", "customer.created", map[string]any{"id": "cus_1"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("expected ignored, got %s", outcome)
	}
	if got := f.metrics.GetSnapshot()["billing_ignored"]; got != 1 {
		t.Errorf("expected 1 ignored outcome, got %d", got)
	}
}

func TestReconciler_Replay(t *testing.T) {
	f := newReconcilerFixture()
	f.processor.states["sub_1"] = &billing.SubscriptionState{ID: "sub_1", Status: "active", PeriodEnd: periodEnd}
	evt := newEvent(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject(map[string]string{"ownerId": "owner-1", "tier": "business"}))

	if _, err := f.rec.Reconcile(context.Background(), evt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.ents.entitlements["owner-1"].Monthly = 1

	outcome, err := f.rec.Replay(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeApplied {
		t.Errorf("expected applied, got %s", outcome)
	}
	if got := f.ents.entitlements["owner-1"].Monthly; got != 150 {
		t.Errorf("expected monthly 150 after replay, got %d", got)
	}

	if _, err := f.rec.Replay(context.Background(), "evt_missing"); err == nil {
		t.Error("expected error replaying an unknown event")
	}
}
