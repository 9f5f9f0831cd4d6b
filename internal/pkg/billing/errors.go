package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to the
	// account's current entitlement state.
	ErrInvalidTransition = errors.New("invalid entitlement transition")
	// ErrNoActiveSubscription wraps ErrInvalidTransition.
	ErrNoActiveSubscription = fmt.Errorf("%w: no active subscription", ErrInvalidTransition)
	// ErrStaleWrite means another writer updated the account first.
	ErrStaleWrite = errors.New("stale entitlement write")

	ErrInvalidOrRedeemedToken = errors.New("gift token is invalid or already redeemed")
	ErrTokenExpired           = errors.New("gift token expired")

	ErrAccountNotFound       = errors.New("account not found")
	ErrProviderNotConfigured = errors.New("billing provider not configured")
	ErrEventInFlight         = errors.New("webhook event is already being processed")
)

// ExternalProviderError wraps a failed call to the billing provider. It is
// always propagated so no local state claims a pause or resume that did not
// happen.
type ExternalProviderError struct {
	Op             string
	SubscriptionID string
	Err            error
}

func (e *ExternalProviderError) Error() string {
	if e.SubscriptionID != "" {
		return fmt.Sprintf("billing provider %s %s: %v", e.Op, e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("billing provider %s: %v", e.Op, e.Err)
}

func (e *ExternalProviderError) Unwrap() error {
	return e.Err
}

// IsExternalProviderError reports whether err came from the provider.
func IsExternalProviderError(err error) bool {
	var pe *ExternalProviderError
	return errors.As(err, &pe)
}
