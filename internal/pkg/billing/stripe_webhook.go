package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionPaused  = "customer.subscription.paused"
	EventSubscriptionResumed = "customer.subscription.resumed"

	CheckoutKindGift = "gift"
)

// ErrInvalidWebhook is returned for payloads that fail verification or decoding.
var ErrInvalidWebhook = errors.New("invalid webhook payload")

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          json.RawMessage   `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	PauseCollection   json.RawMessage   `json:"pause_collection"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID        string            `json:"id"`
				LookupKey string            `json:"lookup_key"`
				Metadata  map[string]string `json:"metadata"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseStripeEvent verifies the Stripe-Signature header and normalizes the
// event. Unknown event types come back with neither Checkout nor
// Subscription set.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (ProviderEvent, error) {
	if secret == "" {
		return ProviderEvent{}, ErrProviderNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if evt.Data == nil {
		return ProviderEvent{}, fmt.Errorf("%w: event %s has no data", ErrInvalidWebhook, evt.ID)
	}

	out := ProviderEvent{
		Provider: "stripe",
		ID:       evt.ID,
		Type:     string(evt.Type),
		Payload:  payload,
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var s stripeCheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return ProviderEvent{}, fmt.Errorf("%w: checkout session: %v", ErrInvalidWebhook, err)
		}
		out.Checkout = checkoutFromStripe(s)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventSubscriptionPaused, EventSubscriptionResumed:
		var s stripeSubscription
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return ProviderEvent{}, fmt.Errorf("%w: subscription: %v", ErrInvalidWebhook, err)
		}
		sub := subscriptionFromEvent(s, evt.Data.Raw)
		sub.Deleted = out.Type == EventSubscriptionDeleted
		out.Subscription = &sub
	}
	return out, nil
}

func checkoutFromStripe(s stripeCheckoutSession) *CheckoutCompleted {
	c := &CheckoutCompleted{
		SessionID:         s.ID,
		CustomerID:        expandableID(s.Customer),
		SubscriptionID:    expandableID(s.Subscription),
		ClientReferenceID: strings.TrimSpace(s.ClientReferenceID),
		CustomerEmail:     s.CustomerEmail,
	}
	if c.CustomerEmail == "" && s.CustomerDetails != nil {
		c.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Metadata != nil {
		c.Kind = strings.ToLower(strings.TrimSpace(s.Metadata["kind"]))
		c.Tier = s.Metadata["tier"]
		c.Duration = s.Metadata["duration"]
		if c.ClientReferenceID == "" {
			c.ClientReferenceID = strings.TrimSpace(s.Metadata[stripeMetadataUserIDKey])
		}
	}
	return c
}

func subscriptionFromEvent(s stripeSubscription, raw json.RawMessage) NormalizedSubscription {
	out := NormalizedSubscription{
		Provider:               "stripe",
		ProviderSubscriptionID: s.ID,
		ProviderCustomerID:     expandableID(s.Customer),
		Status:                 s.Status,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		CollectionPaused:       len(s.PauseCollection) > 0 && !bytes.Equal(s.PauseCollection, []byte("null")),
		RawPayloadJSON:         string(raw),
	}
	if id, ok := userIDFromMetadata(s.Metadata); ok {
		out.UserID = id
	}
	if s.Metadata != nil {
		out.PlanTierHint = s.Metadata["tier"]
	}

	end := s.CurrentPeriodEnd
	for i, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
		hint := item.Price.Metadata["tier"]
		if i == 0 || (hint != "" && out.PlanTierHint == "") {
			out.ProviderPlanRef = item.Price.ID
			if item.Price.Recurring != nil {
				out.BillingInterval = item.Price.Recurring.Interval
			}
		}
		if hint != "" && out.PlanTierHint == "" {
			out.PlanTierHint = hint
		}
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}

// expandableID reads a Stripe field that is either an id or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
