package billing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

type customerCandidate struct {
	id      string
	email   string
	created time.Time
	active  []string
	remote  bool
}

// CleanupDuplicateCustomers collapses the provider customers of an account
// into one canonical customer. Customers owning live subscriptions, by the
// provider's report or the local subscription mirror, are never deleted.
// Neither are customers the provider did not report. Both kinds are
// reported as conflicts.
func (m *EntitlementManager) CleanupDuplicateCustomers(ctx context.Context, userID uint, actor string) (CleanupResult, error) {
	rec, err := m.repo.GetAccount(ctx, userID)
	if err != nil {
		return CleanupResult{}, err
	}

	provider := m.provider.Name()
	remote, err := m.provider.ListCustomers(ctx, userID)
	if err != nil {
		providerErrorsTotal.WithLabelValues("list_customers").Inc()
		return CleanupResult{}, err
	}
	local, err := m.repo.ListCustomers(ctx, userID, provider)
	if err != nil {
		return CleanupResult{}, err
	}

	byID := make(map[string]*customerCandidate, len(remote)+len(local))
	for _, c := range remote {
		byID[c.ID] = &customerCandidate{id: c.ID, email: c.Email, created: c.Created, active: c.ActiveSubscriptions, remote: true}
	}
	for _, c := range local {
		if _, ok := byID[c.ProviderCustomerID]; ok {
			continue
		}
		byID[c.ProviderCustomerID] = &customerCandidate{id: c.ProviderCustomerID, email: c.Email, created: c.CreatedAt}
	}
	if len(byID) == 0 {
		return CleanupResult{}, nil
	}
	if err := m.markMirroredSubscriptions(ctx, provider, rec, byID); err != nil {
		return CleanupResult{}, err
	}

	candidates := make([]*customerCandidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}
	rankCustomers(candidates, rec.ExternalCustomerID)

	canonical := candidates[0]
	result := CleanupResult{Canonical: canonical.id}

	// Mirror what the provider reported so later scans see it.
	for _, c := range candidates {
		if !c.remote {
			continue
		}
		err := m.repo.UpsertCustomer(ctx, &models.BillingCustomer{
			UserID:             userID,
			Provider:           provider,
			ProviderCustomerID: c.id,
			Email:              c.email,
		})
		if err != nil {
			return result, err
		}
	}

	_, err = m.mutate(ctx, userID, actor, "cleanup_customers", func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		mut.next.ExternalCustomerID = canonical.id
		mut.detail = fmt.Sprintf("canonical customer=%s", canonical.id)
		return mut, nil
	})
	if err != nil {
		return result, err
	}

	for _, c := range candidates[1:] {
		if len(c.active) > 0 {
			log.Warnf("[Billing] user=%d customer %s owns active subscriptions %s, not removing",
				userID, c.id, strings.Join(c.active, ","))
			result.Conflicts = append(result.Conflicts, c.id)
			continue
		}
		if !c.remote {
			log.Warnf("[Billing] user=%d customer %s was not reported by the provider, not removing", userID, c.id)
			result.Conflicts = append(result.Conflicts, c.id)
			continue
		}
		if err := m.provider.DeleteCustomer(ctx, c.id); err != nil {
			providerErrorsTotal.WithLabelValues("delete_customer").Inc()
			return result, err
		}
		if err := m.repo.MarkCustomerRemoved(ctx, provider, c.id, m.clock()); err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, c.id)
	}

	if len(result.Removed) > 0 || len(result.Conflicts) > 0 {
		log.Infof("[Billing] user=%d actor=%s customer cleanup canonical=%s removed=%v conflicts=%v",
			userID, actor, result.Canonical, result.Removed, result.Conflicts)
	}
	return result, nil
}

// markMirroredSubscriptions adds to each candidate the live subscriptions the
// local mirror attributes to it. Entitling statuses count, and so do the
// account's current and paused subscription ids whatever their mirrored status.
func (m *EntitlementManager) markMirroredSubscriptions(ctx context.Context, provider string, rec entitlements.Record, byID map[string]*customerCandidate) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	subs, err := m.repo.ListSubscriptionsByCustomers(ctx, provider, ids)
	if err != nil {
		return fmt.Errorf("list mirrored subscriptions: %w", err)
	}
	for _, sub := range subs {
		c, ok := byID[sub.ProviderCustomerID]
		if !ok || slices.Contains(c.active, sub.ProviderSubscriptionID) {
			continue
		}
		owned := sub.ProviderSubscriptionID != "" &&
			(sub.ProviderSubscriptionID == rec.ExternalSubscriptionID ||
				sub.ProviderSubscriptionID == rec.PausedExternalSubscriptionID)
		if owned || isEntitlingStatus(sub.Status) {
			c.active = append(c.active, sub.ProviderSubscriptionID)
		}
	}
	return nil
}

// rankCustomers orders candidates so the canonical customer comes first:
// owners of active subscriptions, then the stored customer, then the oldest.
func rankCustomers(candidates []*customerCandidate, stored string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (len(a.active) > 0) != (len(b.active) > 0) {
			return len(a.active) > 0
		}
		if (a.id == stored) != (b.id == stored) {
			return a.id == stored
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return a.id < b.id
	})
}
