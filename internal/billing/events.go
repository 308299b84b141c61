// Package billing adapts the payment processor: webhook verification, event
// decoding and subscription calls.
package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types reconciled by this system
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedEvent   = errors.New("malformed event")
)

// Event is a decoded billing event envelope
type Event struct {
	ID       string
	Type     string
	Created  time.Time
	Object   json.RawMessage
	Metadata map[string]string
	Payload  []byte
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
	Metadata map[string]string `json:"metadata"`
}

// ParseEvent decodes an event envelope without verifying it
func ParseEvent(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if len(env.Data.Object) == 0 || bytes.Equal(env.Data.Object, []byte("null")) {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}
	return &Event{
		ID:       env.ID,
		Type:     env.Type,
		Created:  time.Unix(env.Created, 0).UTC(),
		Object:   env.Data.Object,
		Metadata: env.Metadata,
		Payload:  payload,
	}, nil
}

// Decode unmarshals the event's data object into v
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Object, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// ExpandableID accepts either a bare id or an expanded object carrying an id
type ExpandableID string

func (x *ExpandableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*x = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*x = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*x = ExpandableID(obj.ID)
	return nil
}

// CheckoutSession is the data object of a checkout completed event
type CheckoutSession struct {
	ID                string            `json:"id"`
	Customer          ExpandableID      `json:"customer"`
	Subscription      ExpandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// Invoice is the data object of invoice events
type Invoice struct {
	ID           string       `json:"id"`
	Customer     ExpandableID `json:"customer"`
	Subscription ExpandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Parent *struct {
				SubscriptionItemDetails *struct {
					Subscription ExpandableID `json:"subscription"`
				} `json:"subscription_item_details"`
			} `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

// Subscription is the data object of subscription events
type Subscription struct {
	ID                 string       `json:"id"`
	Customer           ExpandableID `json:"customer"`
	Status             string       `json:"status"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// State flattens the subscription, reading the period from items when the top level lacks it
func (s *Subscription) State() SubscriptionState {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return SubscriptionState{
		ID:                s.ID,
		CustomerID:        string(s.Customer),
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		PeriodStart:       time.Unix(start, 0).UTC(),
		PeriodEnd:         time.Unix(end, 0).UTC(),
	}
}

// SubscriptionState is the processor's view of a subscription
type SubscriptionState struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
}
