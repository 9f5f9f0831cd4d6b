package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// ProcessWebhookEvent applies a verified provider event exactly once. The
// ledger entry is written only after the effect committed, so a failure
// leaves the event to be redelivered.
func (s *Service) ProcessWebhookEvent(ctx context.Context, evt ProviderEvent) (WebhookResult, error) {
	provider := normalizeProvider(evt.Provider)
	if provider == "" || strings.TrimSpace(evt.ID) == "" {
		return WebhookResult{}, fmt.Errorf("%w: missing provider or event id", ErrInvalidWebhook)
	}

	done, err := s.Ledger.AlreadyProcessed(ctx, provider, evt.ID)
	if err != nil {
		return WebhookResult{}, err
	}
	if done {
		webhookEventsTotal.WithLabelValues(evt.Type, "duplicate").Inc()
		log.Infof("[Webhook] %s event %s already processed", provider, evt.ID)
		return WebhookResult{Duplicate: true}, nil
	}

	if s.locker != nil {
		key := fmt.Sprintf("plusledger:webhook:%s:%s", provider, evt.ID)
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.WebhookLockTTL)
		switch {
		case err != nil:
			log.Warnf("[Webhook] in-flight lock unavailable, continuing without it: %v", err)
		case !ok:
			webhookEventsTotal.WithLabelValues(evt.Type, "in_flight").Inc()
			return WebhookResult{}, ErrEventInFlight
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warnf("[Webhook] failed to release in-flight lock %s: %v", key, err)
				}
			}()
			// Another worker may have finished between the check and the lock.
			if done, err := s.Ledger.AlreadyProcessed(ctx, provider, evt.ID); err != nil {
				return WebhookResult{}, err
			} else if done {
				webhookEventsTotal.WithLabelValues(evt.Type, "duplicate").Inc()
				return WebhookResult{Duplicate: true}, nil
			}
		}
	}

	res, err := s.dispatch(ctx, provider, evt)
	if err != nil {
		webhookEventsTotal.WithLabelValues(evt.Type, "failed").Inc()
		log.Errorf("[Webhook] %s event %s (%s) failed: %v", provider, evt.ID, evt.Type, err)
		return WebhookResult{}, err
	}

	if _, err := s.Ledger.RecordProcessed(ctx, WebhookEventInput{
		Provider:        provider,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PayloadJSON:     string(evt.Payload),
		RelatedUserID:   res.UserID,
	}); err != nil {
		return WebhookResult{}, err
	}

	result := "processed"
	if res.Ignored {
		result = "ignored"
	}
	webhookEventsTotal.WithLabelValues(evt.Type, result).Inc()
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, provider string, evt ProviderEvent) (WebhookResult, error) {
	actor := "webhook:" + provider
	switch {
	case evt.Checkout != nil:
		return s.handleCheckout(ctx, provider, actor, evt.Checkout)
	case evt.Subscription != nil:
		return s.handleSubscription(ctx, provider, actor, *evt.Subscription)
	default:
		log.Debugf("[Webhook] ignoring %s event %s", evt.Type, evt.ID)
		return WebhookResult{Ignored: true}, nil
	}
}

func (s *Service) handleCheckout(ctx context.Context, provider, actor string, c *CheckoutCompleted) (WebhookResult, error) {
	userID, err := s.checkoutUser(ctx, provider, c)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Warnf("[Webhook] checkout %s has no resolvable account, ignoring", c.SessionID)
			return WebhookResult{Ignored: true}, nil
		}
		return WebhookResult{}, err
	}

	if c.CustomerID != "" {
		if err := s.repo.UpsertCustomer(ctx, &models.BillingCustomer{
			UserID:             userID,
			Provider:           provider,
			ProviderCustomerID: c.CustomerID,
			Email:              c.CustomerEmail,
		}); err != nil {
			return WebhookResult{}, err
		}
	}

	if c.Kind == CheckoutKindGift {
		tier, terr := entitlements.ParseTier(c.Tier)
		duration, derr := entitlements.ParseDuration(c.Duration)
		if terr != nil || derr != nil {
			log.Warnf("[Webhook] gift checkout %s has invalid tier/duration %q/%q, ignoring", c.SessionID, c.Tier, c.Duration)
			return WebhookResult{Ignored: true, UserID: &userID}, nil
		}
		session := c.SessionID
		g, err := s.Gifts.Issue(ctx, userID, tier, duration, &session)
		if err != nil {
			return WebhookResult{}, err
		}
		log.Infof("[Webhook] gift %d issued for checkout %s", g.ID, c.SessionID)
		return WebhookResult{UserID: &userID}, nil
	}

	if c.CustomerID != "" {
		if err := s.Manager.LinkCustomer(ctx, userID, c.CustomerID, actor); err != nil {
			return WebhookResult{}, err
		}
	}
	return WebhookResult{UserID: &userID}, nil
}

func (s *Service) checkoutUser(ctx context.Context, provider string, c *CheckoutCompleted) (uint, error) {
	if c.ClientReferenceID != "" {
		id, err := strconv.ParseUint(c.ClientReferenceID, 10, 64)
		if err == nil && id > 0 {
			return uint(id), nil
		}
	}
	if c.CustomerID == "" {
		return 0, ErrAccountNotFound
	}
	return s.repo.FindUserIDByCustomer(ctx, provider, c.CustomerID)
}

func (s *Service) handleSubscription(ctx context.Context, provider, actor string, in NormalizedSubscription) (WebhookResult, error) {
	in.Provider = provider
	if in.UserID == 0 {
		if in.ProviderCustomerID == "" {
			log.Warnf("[Webhook] subscription %s has no customer, ignoring", in.ProviderSubscriptionID)
			return WebhookResult{Ignored: true}, nil
		}
		id, err := s.repo.FindUserIDByCustomer(ctx, provider, in.ProviderCustomerID)
		if err != nil {
			// Unknown customers are retried: the checkout that links them may
			// not have been delivered yet.
			return WebhookResult{}, fmt.Errorf("subscription %s: %w", in.ProviderSubscriptionID, err)
		}
		in.UserID = id
	}
	userID := in.UserID

	tier, err := s.ResolveTier(ctx, in)
	if err != nil {
		return WebhookResult{}, err
	}

	status := strings.ToLower(strings.TrimSpace(in.Status))
	if in.Deleted && status == "" {
		status = models.BillingStatusCanceled
	}
	if err := s.repo.UpsertSubscription(ctx, &models.BillingSubscription{
		UserID:                 userID,
		Provider:               provider,
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		ProviderCustomerID:     in.ProviderCustomerID,
		ProviderPlanRef:        in.ProviderPlanRef,
		InternalTier:           string(tier),
		BillingInterval:        normalizeInterval(in.BillingInterval),
		Status:                 status,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		CollectionPaused:       in.CollectionPaused,
		RawPayloadJSON:         in.RawPayloadJSON,
	}); err != nil {
		return WebhookResult{}, err
	}
	if in.ProviderCustomerID != "" {
		if err := s.repo.UpsertCustomer(ctx, &models.BillingCustomer{
			UserID:             userID,
			Provider:           provider,
			ProviderCustomerID: in.ProviderCustomerID,
		}); err != nil {
			return WebhookResult{}, err
		}
	}

	after, err := s.Manager.SyncProviderSubscription(ctx, in, tier, actor)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Warnf("[Webhook] subscription %s for user=%d not applied: %v", in.ProviderSubscriptionID, userID, err)
			return WebhookResult{Ignored: true, UserID: &userID}, nil
		}
		return WebhookResult{}, err
	}
	log.Infof("[Webhook] subscription %s (%s) synced for user=%d, status %s", in.ProviderSubscriptionID, status, userID, after)
	return WebhookResult{UserID: &userID}, nil
}

// ResolveTier maps a provider subscription to an internal tier: an active plan
// mapping for the exact interval wins, then one for "unknown", then the
// tier hint carried in the provider metadata.
func (s *Service) ResolveTier(ctx context.Context, in NormalizedSubscription) (entitlements.Tier, error) {
	provider := normalizeProvider(in.Provider)
	ref := strings.TrimSpace(in.ProviderPlanRef)
	if provider != "" && ref != "" {
		for _, interval := range []string{normalizeInterval(in.BillingInterval), models.BillingIntervalUnknown} {
			m, err := s.repo.FindActivePlanMapping(provider, ref, interval)
			if err == nil {
				return normalizeTier(m.InternalTier), nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return entitlements.TierNone, err
			}
		}
	}
	return normalizeTier(in.PlanTierHint), nil
}
