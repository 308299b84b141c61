package models

import "time"

// Tier names an entitlement level
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierBusiness     Tier = "business"
)

// FreeMonthlyLimit is the article allowance of the free tier
const FreeMonthlyLimit = 3

// Subscription status values mirrored from the payment processor
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// Entitlement is the per-owner quota record
type Entitlement struct {
	OwnerID            string     `json:"owner_id"`
	Tier               Tier       `json:"tier"`
	Monthly            int        `json:"monthly"`
	Used               int        `json:"used"`
	LifetimeUsed       int        `json:"lifetime_used"`
	ResetAt            *time.Time `json:"reset_at,omitempty"`
	SubscriptionStatus string     `json:"subscription_status"`
	SubscriptionID     string     `json:"subscription_id,omitempty"`
	CustomerID         string     `json:"customer_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Remaining returns how many articles may still be generated this period
func (e *Entitlement) Remaining() int {
	if e.Used >= e.Monthly {
		return 0
	}
	return e.Monthly - e.Used
}

// Subscription mirrors a payment processor subscription
type Subscription struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"owner_id"`
	CustomerID         string    `json:"customer_id,omitempty"`
	Status             string    `json:"status"`
	Tier               Tier      `json:"tier"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// QuotaInfo is the read model answering admission questions
type QuotaInfo struct {
	OwnerID            string     `json:"owner_id"`
	Tier               Tier       `json:"tier"`
	Used               int        `json:"used"`
	Monthly            int        `json:"monthly"`
	Remaining          int        `json:"remaining"`
	HasQuota           bool       `json:"has_quota"`
	ResetAt            *time.Time `json:"reset_at,omitempty"`
	SubscriptionStatus string     `json:"subscription_status"`
}

// BillingEvent is a verified webhook delivery kept for audit and replay
type BillingEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"-"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Deliveries  int       `json:"deliveries"`
	ReceivedAt  time.Time `json:"received_at"`
	ProcessedAt time.Time `json:"processed_at"`
}
