package billing

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionNotFound is returned by providers when the subscription no
// longer exists remotely.
var ErrSubscriptionNotFound = errors.New("provider subscription not found")

// ProviderSubscription is the provider's view of a subscription after a call.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd *time.Time
	CollectionPaused bool
}

// ProviderCustomer is one customer object found for an account.
type ProviderCustomer struct {
	ID                  string
	Email               string
	Created             time.Time
	ActiveSubscriptions []string
}

// Provider is the external billing system. Implementations return
// *ExternalProviderError for every failed call.
type Provider interface {
	Name() string
	PauseSubscription(ctx context.Context, subscriptionID string) error
	ResumeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	ListCustomers(ctx context.Context, userID uint) ([]ProviderCustomer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// DisabledProvider is used when no provider credentials are configured. Every
// call fails so billing actions never silently no-op.
type DisabledProvider struct{}

func (DisabledProvider) Name() string { return "disabled" }

func (DisabledProvider) PauseSubscription(ctx context.Context, subscriptionID string) error {
	return &ExternalProviderError{Op: "pause", SubscriptionID: subscriptionID, Err: ErrProviderNotConfigured}
}

func (DisabledProvider) ResumeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return nil, &ExternalProviderError{Op: "resume", SubscriptionID: subscriptionID, Err: ErrProviderNotConfigured}
}

func (DisabledProvider) ListCustomers(ctx context.Context, userID uint) ([]ProviderCustomer, error) {
	return nil, &ExternalProviderError{Op: "list customers", Err: ErrProviderNotConfigured}
}

func (DisabledProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	return &ExternalProviderError{Op: "delete customer", Err: ErrProviderNotConfigured}
}

// NewProviderFromConfig returns the Stripe adapter when a key is configured.
func NewProviderFromConfig(cfg Config) Provider {
	if cfg.StripeSecretKey == "" {
		return DisabledProvider{}
	}
	return NewStripeProvider(cfg.StripeSecretKey)
}
