package billing

import (
	"time"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// NormalizedSubscription is the provider-agnostic shape used when syncing
// external subscription state onto an account.
type NormalizedSubscription struct {
	UserID                 uint
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderPlanRef        string
	PlanTierHint           string
	BillingInterval        string
	Status                 string
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	CollectionPaused       bool
	Deleted                bool
	RawPayloadJSON         string
}

// WebhookEventInput is the normalized input for ledger persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	RelatedUserID   *uint
}

// GiftOutcome reports what applying a gift did to an account.
type GiftOutcome struct {
	Transition           entitlements.Transition
	Tier                 entitlements.Tier
	NewExpiry            time.Time
	Before               entitlements.Status
	After                entitlements.Status
	PausedSubscriptionID string
}

// ExpirationOutcome reports what expiration handling did to an account.
type ExpirationOutcome struct {
	Changed bool
	Resumed bool
	Before  entitlements.Status
	After   entitlements.Status
	// Label is EXPIRED when the account lost all access, else After.
	Label entitlements.Status
}

// RedemptionResult is returned to the user who redeemed a gift.
type RedemptionResult struct {
	Tier        entitlements.Tier       `json:"tier"`
	Duration    entitlements.Duration   `json:"duration"`
	NewExpiry   time.Time               `json:"new_expiry"`
	Transition  entitlements.Transition `json:"transition"`
	Description string                  `json:"description"`
	Status      entitlements.Status     `json:"status"`
}

// CleanupResult reports a duplicate-customer reconciliation.
type CleanupResult struct {
	Canonical string   `json:"canonical"`
	Removed   []string `json:"removed"`
	Conflicts []string `json:"conflicts"`
}

// ProviderEvent is a verified, provider-neutral webhook event.
type ProviderEvent struct {
	Provider string
	ID       string
	Type     string
	Payload  []byte

	Checkout     *CheckoutCompleted
	Subscription *NormalizedSubscription
}

// CheckoutCompleted carries the parts of a completed checkout we act on.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	// ClientReferenceID is the local user id the checkout was opened for.
	ClientReferenceID string
	CustomerEmail     string
	// Gift purchases carry kind=gift plus tier and duration in metadata.
	Kind     string
	Tier     string
	Duration string
}

// WebhookResult is what the webhook handler reports back to the provider.
type WebhookResult struct {
	Duplicate bool
	Ignored   bool
	UserID    *uint
}
