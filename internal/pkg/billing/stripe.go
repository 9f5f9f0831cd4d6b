package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

const stripeMetadataUserIDKey = "user_id"

// StripeProvider talks to Stripe. Pausing uses pause_collection with the
// "void" behavior so no invoice is charged while a credit is consumed.
type StripeProvider struct {
	api        *client.API
	newBackOff func() backoff.BackOff
}

// NewStripeProvider creates a provider from a secret key.
func NewStripeProvider(secretKey string) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{api: sc, newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	return b
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) PauseSubscription(ctx context.Context, subscriptionID string) error {
	err := p.retry(ctx, func() error {
		params := &stripe.SubscriptionParams{
			PauseCollection: &stripe.SubscriptionPauseCollectionParams{
				Behavior: stripe.String(string(stripe.SubscriptionPauseCollectionBehaviorVoid)),
			},
		}
		params.Context = ctx
		_, err := p.api.Subscriptions.Update(subscriptionID, params)
		return err
	})
	if err != nil {
		logStripeError("PauseSubscription", err)
		return &ExternalProviderError{Op: "pause", SubscriptionID: subscriptionID, Err: mapStripeError(err)}
	}
	log.Infof("[Stripe] paused collection for subscription %s", subscriptionID)
	return nil
}

func (p *StripeProvider) ResumeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	var sub *stripe.Subscription
	err := p.retry(ctx, func() error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		// An empty value clears pause_collection.
		params.AddExtra("pause_collection", "")
		var err error
		sub, err = p.api.Subscriptions.Update(subscriptionID, params)
		return err
	})
	if err != nil {
		logStripeError("ResumeSubscription", err)
		return nil, &ExternalProviderError{Op: "resume", SubscriptionID: subscriptionID, Err: mapStripeError(err)}
	}
	log.Infof("[Stripe] resumed collection for subscription %s", subscriptionID)
	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) ListCustomers(ctx context.Context, userID uint) ([]ProviderCustomer, error) {
	var out []ProviderCustomer
	err := p.retry(ctx, func() error {
		out = out[:0]
		params := &stripe.CustomerSearchParams{
			SearchParams: stripe.SearchParams{
				Query:   fmt.Sprintf("metadata['%s']:'%d'", stripeMetadataUserIDKey, userID),
				Context: ctx,
			},
		}
		iter := p.api.Customers.Search(params)
		for iter.Next() {
			c := iter.Customer()
			if c.Deleted {
				continue
			}
			out = append(out, ProviderCustomer{
				ID:      c.ID,
				Email:   c.Email,
				Created: time.Unix(c.Created, 0).UTC(),
			})
		}
		if err := iter.Err(); err != nil {
			return err
		}

		for i := range out {
			subs, err := p.activeSubscriptions(ctx, out[i].ID)
			if err != nil {
				return err
			}
			out[i].ActiveSubscriptions = subs
		}
		return nil
	})
	if err != nil {
		logStripeError("ListCustomers", err)
		return nil, &ExternalProviderError{Op: "list customers", Err: mapStripeError(err)}
	}
	return out, nil
}

func (p *StripeProvider) activeSubscriptions(ctx context.Context, customerID string) ([]string, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	iter := p.api.Subscriptions.List(params)
	var ids []string
	for iter.Next() {
		s := iter.Subscription()
		if isEntitlingStatus(string(s.Status)) {
			ids = append(ids, s.ID)
		}
	}
	return ids, iter.Err()
}

func (p *StripeProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	err := p.retry(ctx, func() error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		_, err := p.api.Customers.Del(customerID, params)
		if isStripeResourceMissing(err) {
			return nil
		}
		return err
	})
	if err != nil {
		logStripeError("DeleteCustomer", err)
		return &ExternalProviderError{Op: "delete customer", Err: mapStripeError(err)}
	}
	log.Infof("[Stripe] deleted duplicate customer %s", customerID)
	return nil
}

// retry runs op with exponential backoff. Client errors other than rate
// limiting are permanent.
func (p *StripeProvider) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(p.newBackOff(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isRetryableStripeError(err) {
			return backoff.Permanent(err)
		}
		log.Warnf("[Stripe] retrying after transient error: %v", err)
		return err
	}, b)
}

func isRetryableStripeError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == 0 || se.HTTPStatusCode == 429 || se.HTTPStatusCode >= 500
	}
	return true
}

func isStripeResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

func mapStripeError(err error) error {
	if isStripeResourceMissing(err) {
		return fmt.Errorf("%w: %v", ErrSubscriptionNotFound, err)
	}
	return err
}

func logStripeError(op string, err error) {
	var se *stripe.Error
	if errors.As(err, &se) {
		log.Errorf("[Stripe] %s failed: type=%s code=%s status=%d request=%s msg=%s",
			op, se.Type, se.Code, se.HTTPStatusCode, se.RequestID, se.Msg)
		return
	}
	log.Errorf("[Stripe] %s failed: %v", op, err)
}

func subscriptionFromStripe(sub *stripe.Subscription) *ProviderSubscription {
	if sub == nil {
		return nil
	}
	out := &ProviderSubscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CollectionPaused: sub.PauseCollection != nil,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		var end int64
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
		if end > 0 {
			t := time.Unix(end, 0).UTC()
			out.CurrentPeriodEnd = &t
		}
	}
	return out
}

func userIDFromMetadata(md map[string]string) (uint, bool) {
	raw, ok := md[stripeMetadataUserIDKey]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
