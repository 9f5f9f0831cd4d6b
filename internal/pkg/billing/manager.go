package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// EntitlementManager owns every mutation of an account's entitlement record.
//
// Each operation loads the record, plans the change without side effects,
// performs provider calls outside of any lock and commits with a conditional
// write on the record's version. A lost race reloads and replans.
type EntitlementManager struct {
	repo     Repository
	provider Provider
	cfg      Config
	now      func() time.Time
}

// NewEntitlementManager creates a manager. A nil provider is replaced by
// DisabledProvider.
func NewEntitlementManager(repo Repository, provider Provider, cfg Config) *EntitlementManager {
	if provider == nil {
		provider = DisabledProvider{}
	}
	return &EntitlementManager{
		repo:     repo,
		provider: provider,
		cfg:      cfg.normalized(),
		now:      func() time.Time { return time.Now() },
	}
}

// SetClock replaces the time source.
func (m *EntitlementManager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *EntitlementManager) clock() time.Time {
	return m.now().UTC().Truncate(time.Second)
}

// Now is the manager's current time.
func (m *EntitlementManager) Now() time.Time {
	return m.clock()
}

// ProviderName names the payment provider the manager talks to.
func (m *EntitlementManager) ProviderName() string {
	return m.provider.Name()
}

// Status resolves the account's effective status at the current time.
func (m *EntitlementManager) Status(ctx context.Context, userID uint) (entitlements.Record, entitlements.Status, error) {
	rec, err := m.repo.GetAccount(ctx, userID)
	if err != nil {
		return entitlements.Record{}, "", err
	}
	return rec, entitlements.Resolve(rec, m.clock()), nil
}

// mutation is a planned change to one record.
type mutation struct {
	next entitlements.Record
	// pause is the subscription that must be paused before committing.
	pause string
	// resume is the subscription that must be resumed before committing.
	resume string
	// resumeFloor is the earliest paid end to assume after a resume.
	resumeFloor time.Time
	resumeTier  entitlements.Tier
	detail      string
}

type planFunc func(rec entitlements.Record, now time.Time) (mutation, error)

type committed struct {
	before  entitlements.Record
	after   entitlements.Record
	now     time.Time
	written bool
	resumed bool
}

// mutate runs the load, plan, provider call, conditional write cycle.
func (m *EntitlementManager) mutate(ctx context.Context, userID uint, actor, action string, plan planFunc) (committed, error) {
	var pausedByUs, resumedByUs string
	var last entitlements.Record

	for attempt := 1; attempt <= m.cfg.MaxWriteAttempts; attempt++ {
		now := m.clock()
		rec, err := m.repo.GetAccount(ctx, userID)
		if err != nil {
			m.compensate(ctx, userID, pausedByUs, resumedByUs, last)
			return committed{}, err
		}
		last = rec

		mut, err := plan(rec.Clone(), now)
		if err != nil {
			m.compensate(ctx, userID, pausedByUs, resumedByUs, rec)
			return committed{}, err
		}

		if mut.pause != "" && mut.pause != pausedByUs {
			if err := m.provider.PauseSubscription(ctx, mut.pause); err != nil {
				providerErrorsTotal.WithLabelValues("pause").Inc()
				m.compensate(ctx, userID, pausedByUs, resumedByUs, rec)
				return committed{}, err
			}
			pausedByUs = mut.pause
		}

		resumed := false
		if mut.resume != "" {
			ps, err := m.provider.ResumeSubscription(ctx, mut.resume)
			switch {
			case err == nil:
				resumed = true
				resumedByUs = mut.resume
				applyResumed(&mut, ps, now)
			case errors.Is(err, ErrSubscriptionNotFound):
				log.Warnf("[Billing] user=%d paused subscription %s no longer exists, detaching", userID, mut.resume)
				detachGone(&mut.next, mut.resume, now)
			default:
				providerErrorsTotal.WithLabelValues("resume").Inc()
				m.compensate(ctx, userID, pausedByUs, resumedByUs, rec)
				return committed{}, err
			}
		}

		if mut.next.Equal(rec) {
			m.compensate(ctx, userID, pausedByUs, resumedByUs, rec)
			return committed{before: rec, after: rec, now: now}, nil
		}

		mut.next.Version = rec.Version
		version, err := m.repo.SaveAccount(ctx, mut.next)
		if errors.Is(err, ErrStaleWrite) {
			staleWritesTotal.WithLabelValues(action).Inc()
			log.Warnf("[Billing] stale write for user=%d action=%s (attempt %d/%d)", userID, action, attempt, m.cfg.MaxWriteAttempts)
			continue
		}
		if err != nil {
			m.compensate(ctx, userID, pausedByUs, resumedByUs, rec)
			return committed{}, err
		}
		mut.next.Version = version
		m.compensate(ctx, userID, pausedByUs, resumedByUs, mut.next)

		out := committed{before: rec, after: mut.next, now: now, written: true, resumed: resumed}
		m.recordAudit(ctx, out, actor, action, mut.detail)
		return out, nil
	}

	m.compensate(ctx, userID, pausedByUs, resumedByUs, last)
	return committed{}, fmt.Errorf("%w: user %d after %d attempts", ErrStaleWrite, userID, m.cfg.MaxWriteAttempts)
}

// compensate reconciles provider calls made by this operation with the
// record as it stands: a pause the record does not reflect is resumed, and a
// resume the record does not reflect is paused again. Failures are logged.
func (m *EntitlementManager) compensate(ctx context.Context, userID uint, pausedByUs, resumedByUs string, state entitlements.Record) {
	if pausedByUs != "" && state.PausedExternalSubscriptionID != pausedByUs {
		compensationsTotal.WithLabelValues("resume").Inc()
		log.Warnf("[Billing] user=%d compensating pause of %s", userID, pausedByUs)
		if _, err := m.provider.ResumeSubscription(ctx, pausedByUs); err != nil {
			log.Errorf("[Billing] user=%d compensation resume of %s failed: %v", userID, pausedByUs, err)
		}
	}
	if resumedByUs != "" && state.PausedExternalSubscriptionID == resumedByUs {
		compensationsTotal.WithLabelValues("pause").Inc()
		log.Warnf("[Billing] user=%d compensating resume of %s", userID, resumedByUs)
		if err := m.provider.PauseSubscription(ctx, resumedByUs); err != nil {
			log.Errorf("[Billing] user=%d compensation pause of %s failed: %v", userID, resumedByUs, err)
		}
	}
}

func (m *EntitlementManager) recordAudit(ctx context.Context, c committed, actor, action, detail string) {
	before := entitlements.Resolve(c.before, c.now)
	after := entitlements.Resolve(c.after, c.now)
	transitionsTotal.WithLabelValues(action).Inc()
	log.Infof("[Billing] user=%d actor=%s action=%s %s -> %s %s", c.after.UserID, actor, action, before, after, detail)

	entry := &models.EntitlementAuditLog{
		UserID:       c.after.UserID,
		Actor:        actor,
		Action:       action,
		BeforeStatus: string(before),
		AfterStatus:  string(after),
		Detail:       detail,
	}
	if err := m.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Errorf("[Billing] failed to write audit log for user=%d action=%s: %v", c.after.UserID, action, err)
	}
}

// ApplyGiftSubscription applies a redeemed gift according to the account's
// current effective tier.
func (m *EntitlementManager) ApplyGiftSubscription(ctx context.Context, userID uint, tier entitlements.Tier, duration entitlements.Duration, actor string) (GiftOutcome, error) {
	if err := validateGrant(tier, duration); err != nil {
		return GiftOutcome{}, err
	}

	var out GiftOutcome
	c, err := m.mutate(ctx, userID, actor, "gift_applied", func(rec entitlements.Record, now time.Time) (mutation, error) {
		before := entitlements.Resolve(rec, now)
		tr := entitlements.DecideGift(before, tier)
		mut := mutation{next: rec}
		next := &mut.next

		var expiry time.Time
		switch tr {
		case entitlements.TransitionActivate:
			expiry = duration.AddTo(now)
			next.SetCreditEnd(tier, &expiry)

		case entitlements.TransitionExtend:
			if rec.PaidActive(now) && rec.PaidTier() == tier && !rec.IsPaused() {
				// Local grant only. The provider keeps billing on its own
				// period and is not paused; period syncs keep the later
				// date, but cancelling the subscription drops the extension.
				expiry = duration.AddTo(*rec.SubscriptionEndDate)
				next.SubscriptionEndDate = &expiry
			} else {
				expiry = duration.AddTo(latestOf(now, rec.CreditEnd(tier)))
				next.SetCreditEnd(tier, &expiry)
			}

		case entitlements.TransitionUpgrade:
			mut.pause = pauseTarget(rec, entitlements.TierMiniPlus, now)
			expiry = duration.AddTo(latestOf(now, rec.CreditPlusBalanceEnd))
			next.CreditPlusBalanceEnd = &expiry

		case entitlements.TransitionCreditForLater:
			expiry = duration.AddTo(rec.CoverageEnd(entitlements.TierMiniPlus, now))
			next.CreditMiniPlusBalanceEnd = &expiry

		case entitlements.TransitionExtendViaPause:
			mut.pause = pauseTarget(rec, entitlements.TierPlus, now)
			expiry = duration.AddTo(rec.CoverageEnd(entitlements.TierPlus, now))
			next.CreditPlusBalanceEnd = &expiry

		default:
			return mutation{}, fmt.Errorf("%w: %s gift on %s", ErrInvalidTransition, tier, before)
		}

		if mut.pause != "" {
			next.PausedExternalSubscriptionID = mut.pause
		}
		after := recompute(next, now)
		mut.detail = fmt.Sprintf("transition=%s tier=%s duration=%s expiry=%s", tr, tier, duration, expiry.Format(time.RFC3339))

		out = GiftOutcome{
			Transition:           tr,
			Tier:                 tier,
			NewExpiry:            expiry,
			Before:               before,
			After:                after,
			PausedSubscriptionID: mut.pause,
		}
		return mut, nil
	})
	if err != nil {
		return GiftOutcome{}, err
	}
	out.After = entitlements.Resolve(c.after, c.now)
	return out, nil
}

// pauseTarget returns the subscription to pause when a credit of a higher or
// equal tier is layered over an active paid subscription of tier paid.
func pauseTarget(rec entitlements.Record, paid entitlements.Tier, now time.Time) string {
	if rec.IsPaused() || rec.ExternalSubscriptionID == "" {
		return ""
	}
	if !rec.PaidActive(now) || rec.PaidTier() != paid {
		return ""
	}
	return rec.ExternalSubscriptionID
}

// ExtendSubscription pushes the paid subscription end out by one duration.
// TierNone extends whatever tier is paid.
func (m *EntitlementManager) ExtendSubscription(ctx context.Context, userID uint, duration entitlements.Duration, tier entitlements.Tier, actor string) (time.Time, error) {
	if _, err := entitlements.ParseDuration(string(duration)); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	var expiry time.Time
	_, err := m.mutate(ctx, userID, actor, "extend_subscription", func(rec entitlements.Record, now time.Time) (mutation, error) {
		if !rec.PaidActive(now) || (tier != entitlements.TierNone && rec.PaidTier() != tier) {
			return mutation{}, ErrNoActiveSubscription
		}
		mut := mutation{next: rec}
		expiry = duration.AddTo(*rec.SubscriptionEndDate)
		mut.next.SubscriptionEndDate = &expiry
		recompute(&mut.next, now)
		mut.detail = fmt.Sprintf("tier=%s duration=%s expiry=%s", rec.PaidTier(), duration, expiry.Format(time.RFC3339))
		return mut, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

// StoreGiftCredit banks a credit of tier that starts once existing coverage
// of that tier ends.
func (m *EntitlementManager) StoreGiftCredit(ctx context.Context, userID uint, tier entitlements.Tier, duration entitlements.Duration, actor string) (time.Time, error) {
	if err := validateGrant(tier, duration); err != nil {
		return time.Time{}, err
	}

	var expiry time.Time
	_, err := m.mutate(ctx, userID, actor, "store_gift_credit", func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		expiry = duration.AddTo(rec.CoverageEnd(tier, now))
		mut.next.SetCreditEnd(tier, &expiry)
		recompute(&mut.next, now)
		mut.detail = fmt.Sprintf("tier=%s duration=%s expiry=%s", tier, duration, expiry.Format(time.RFC3339))
		return mut, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

// HandleSubscriptionExpiration resumes paused billing whose covering credit
// has lapsed, clears lapsed credit buckets and recomputes the flags.
func (m *EntitlementManager) HandleSubscriptionExpiration(ctx context.Context, userID uint, actor string) (ExpirationOutcome, error) {
	var hadAccess bool
	c, err := m.mutate(ctx, userID, actor, "handle_expiration", func(rec entitlements.Record, now time.Time) (mutation, error) {
		hadAccess = rec.FlagTier() != entitlements.TierNone
		mut := mutation{next: rec}
		next := &mut.next

		if rec.IsPaused() && !rec.CreditCovers(rec.PaidTier(), now) {
			planResume(&mut, now)
		}
		for _, t := range []entitlements.Tier{entitlements.TierPlus, entitlements.TierMiniPlus} {
			if end := next.CreditEnd(t); end != nil && !end.After(now) {
				next.SetCreditEnd(t, nil)
			}
		}
		if mut.resume != "" {
			// Flags are recomputed once the provider confirms the resume.
			return mut, nil
		}
		if !next.IsPaused() && next.SubscriptionEndDate != nil && !next.SubscriptionEndDate.After(now) {
			next.SubscriptionEndDate = nil
		}
		recompute(next, now)
		mut.detail = "expiration check"
		return mut, nil
	})
	if err != nil {
		return ExpirationOutcome{}, err
	}

	out := ExpirationOutcome{
		Changed: c.written,
		Resumed: c.resumed,
		Before:  entitlements.Resolve(c.before, c.now),
		After:   entitlements.Resolve(c.after, c.now),
	}
	out.Label = out.After
	if hadAccess && !out.After.HasAccess() {
		out.Label = entitlements.StatusExpired
	}
	return out, nil
}

// ResumeBilling resumes a paused subscription when the credit covering the
// paid tier ends at or before horizon.
func (m *EntitlementManager) ResumeBilling(ctx context.Context, userID uint, horizon time.Time, actor string) (bool, error) {
	c, err := m.mutate(ctx, userID, actor, "resume_billing", func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		if !rec.IsPaused() {
			return mut, nil
		}
		if rec.CoverageEnd(rec.PaidTier(), now).After(horizon) {
			return mut, nil
		}
		planResume(&mut, now)
		return mut, nil
	})
	if err != nil {
		return false, err
	}
	return c.resumed, nil
}

// planResume marks the paused subscription for resumption. The paid period
// is assumed to start no earlier than the end of the covering credit.
func planResume(mut *mutation, now time.Time) {
	rec := mut.next
	mut.resume = rec.PausedExternalSubscriptionID
	mut.resumeTier = rec.PaidTier()
	mut.resumeFloor = rec.CoverageEnd(mut.resumeTier, now)
	mut.detail = fmt.Sprintf("resume subscription=%s", mut.resume)
	mut.next.PausedExternalSubscriptionID = ""
	mut.next.ExternalSubscriptionID = mut.resume
}

// applyResumed folds the provider's view of a resumed subscription into the
// planned record.
func applyResumed(mut *mutation, ps *ProviderSubscription, now time.Time) {
	next := &mut.next
	end := latestOf(mut.resumeFloor, next.SubscriptionEndDate)
	if ps != nil {
		end = latestOf(end, ps.CurrentPeriodEnd)
	}
	if end.After(now) {
		next.SubscriptionEndDate = &end
	} else {
		next.SubscriptionEndDate = nil
	}
	next.PreviousTier = mut.resumeTier
	recompute(next, now)
}

// detachGone drops a paused subscription that no longer exists remotely.
func detachGone(next *entitlements.Record, subscriptionID string, now time.Time) {
	if next.ExternalSubscriptionID == subscriptionID {
		next.ExternalSubscriptionID = ""
	}
	next.SubscriptionEndDate = nil
	next.PreviousTier = entitlements.TierNone
	recompute(next, now)
}

// UpdateSubscriptionStatus recomputes the flags and PreviousTier from the
// timestamps. A second call never writes.
func (m *EntitlementManager) UpdateSubscriptionStatus(ctx context.Context, userID uint, actor string) (entitlements.Status, error) {
	c, err := m.mutate(ctx, userID, actor, "update_status", func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		recompute(&mut.next, now)
		mut.detail = "recomputed flags"
		return mut, nil
	})
	if err != nil {
		return "", err
	}
	return entitlements.Resolve(c.after, c.now), nil
}

// SyncProviderSubscription applies a provider subscription change to the
// account. tier is the mapped internal tier; TierNone keeps the paid tier on
// record.
func (m *EntitlementManager) SyncProviderSubscription(ctx context.Context, in NormalizedSubscription, tier entitlements.Tier, actor string) (entitlements.Status, error) {
	subID := in.ProviderSubscriptionID
	entitling := isEntitlingStatus(in.Status) && !in.Deleted
	action := "sync_subscription"
	if !entitling {
		action = "subscription_" + string(entitlements.StatusCancelled)
	}

	c, err := m.mutate(ctx, in.UserID, actor, action, func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		next := &mut.next
		if next.ExternalCustomerID == "" && in.ProviderCustomerID != "" {
			next.ExternalCustomerID = in.ProviderCustomerID
		}

		if entitling {
			paid := tier
			if paid == entitlements.TierNone {
				if rec.ExternalSubscriptionID != subID && rec.PausedExternalSubscriptionID != subID {
					return mutation{}, fmt.Errorf("%w: no tier mapped for plan %q", ErrInvalidTransition, in.ProviderPlanRef)
				}
				paid = rec.PaidTier()
			}
			if rec.PausedExternalSubscriptionID != subID {
				next.ExternalSubscriptionID = subID
			}
			next.PreviousTier = paid
			if in.CurrentPeriodEnd != nil {
				end := latestOf(in.CurrentPeriodEnd.UTC().Truncate(time.Second), rec.SubscriptionEndDate)
				next.SubscriptionEndDate = &end
			}
			mut.detail = fmt.Sprintf("subscription=%s status=%s tier=%s", subID, in.Status, paid)
		} else {
			touched := false
			if rec.ExternalSubscriptionID == subID {
				next.ExternalSubscriptionID = ""
				next.SubscriptionEndDate = nil
				touched = true
			}
			if rec.PausedExternalSubscriptionID == subID {
				next.PausedExternalSubscriptionID = ""
				next.SubscriptionEndDate = nil
				touched = true
			}
			if touched {
				next.PreviousTier = entitlements.TierNone
			}
			mut.detail = fmt.Sprintf("subscription=%s status=%s deleted=%t", subID, in.Status, in.Deleted)
		}

		recompute(next, now)
		return mut, nil
	})
	if err != nil {
		return "", err
	}
	return entitlements.Resolve(c.after, c.now), nil
}

// AdminAddSubscription grants a local paid subscription to an account that
// has none.
func (m *EntitlementManager) AdminAddSubscription(ctx context.Context, userID uint, tier entitlements.Tier, duration entitlements.Duration, actor string) (time.Time, error) {
	if err := validateGrant(tier, duration); err != nil {
		return time.Time{}, err
	}

	var expiry time.Time
	_, err := m.mutate(ctx, userID, actor, "admin_add_subscription", func(rec entitlements.Record, now time.Time) (mutation, error) {
		if rec.PaidActive(now) || rec.IsPaused() {
			return mutation{}, fmt.Errorf("%w: account already has a paid subscription", ErrInvalidTransition)
		}
		mut := mutation{next: rec}
		expiry = duration.AddTo(now)
		mut.next.SubscriptionEndDate = &expiry
		mut.next.PreviousTier = tier
		recompute(&mut.next, now)
		mut.detail = fmt.Sprintf("tier=%s duration=%s expiry=%s", tier, duration, expiry.Format(time.RFC3339))
		return mut, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

// AdminRemoveSubscription ends the paid subscription locally. Credits stay.
// The provider subscription itself is left untouched.
func (m *EntitlementManager) AdminRemoveSubscription(ctx context.Context, userID uint, actor string) (entitlements.Status, error) {
	c, err := m.mutate(ctx, userID, actor, "admin_remove_subscription", func(rec entitlements.Record, now time.Time) (mutation, error) {
		if !rec.PaidActive(now) && !rec.IsPaused() {
			return mutation{}, ErrNoActiveSubscription
		}
		mut := mutation{next: rec}
		if id := firstNonEmpty(rec.PausedExternalSubscriptionID, rec.ExternalSubscriptionID); id != "" {
			log.Warnf("[Billing] user=%d removing subscription locally, provider subscription %s is left as is", rec.UserID, id)
		}
		mut.next.SubscriptionEndDate = nil
		mut.next.PreviousTier = entitlements.TierNone
		mut.next.PausedExternalSubscriptionID = ""
		mut.next.ExternalSubscriptionID = ""
		mut.next.SetFlags(entitlements.TierNone)
		recompute(&mut.next, now)
		mut.detail = fmt.Sprintf("removed %s subscription", rec.PaidTier())
		return mut, nil
	})
	if err != nil {
		return "", err
	}
	return entitlements.Resolve(c.after, c.now), nil
}

// AdminChangeTier moves an active paid subscription to another tier.
func (m *EntitlementManager) AdminChangeTier(ctx context.Context, userID uint, tier entitlements.Tier, actor string) (entitlements.Status, error) {
	if tier != entitlements.TierPlus && tier != entitlements.TierMiniPlus {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidTransition, tier)
	}
	c, err := m.mutate(ctx, userID, actor, "admin_change_tier", func(rec entitlements.Record, now time.Time) (mutation, error) {
		if !rec.PaidActive(now) {
			return mutation{}, ErrNoActiveSubscription
		}
		from := rec.PaidTier()
		if from == tier {
			return mutation{}, fmt.Errorf("%w: subscription is already %s", ErrInvalidTransition, tier)
		}
		mut := mutation{next: rec}
		mut.next.PreviousTier = tier
		recompute(&mut.next, now)
		mut.detail = fmt.Sprintf("tier %s -> %s", from, tier)
		return mut, nil
	})
	if err != nil {
		return "", err
	}
	return entitlements.Resolve(c.after, c.now), nil
}

// recompute derives the flags and PreviousTier from the timestamps and
// returns the resolved status.
func recompute(r *entitlements.Record, now time.Time) entitlements.Status {
	paid := r.PaidTier()
	hasPaid := paid != entitlements.TierNone && (r.IsPaused() || (r.SubscriptionEndDate != nil && r.SubscriptionEndDate.After(now)))

	// Resolve reads the paid tier through PreviousTier, so park it first.
	r.PreviousTier = paid
	status := entitlements.Resolve(*r, now)
	r.SetFlags(status.Tier())
	if hasPaid && status.Tier() != paid {
		r.PreviousTier = paid
	} else {
		r.PreviousTier = entitlements.TierNone
	}
	return status
}

func validateGrant(tier entitlements.Tier, duration entitlements.Duration) error {
	if tier != entitlements.TierPlus && tier != entitlements.TierMiniPlus {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidTransition, tier)
	}
	if _, err := entitlements.ParseDuration(string(duration)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

func latestOf(t time.Time, other *time.Time) time.Time {
	if other != nil && other.After(t) {
		return *other
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LinkCustomer stores customerID as the account's customer unless one is
// already linked. Extra customers are left to CleanupDuplicateCustomers.
func (m *EntitlementManager) LinkCustomer(ctx context.Context, userID uint, customerID, actor string) error {
	_, err := m.mutate(ctx, userID, actor, "link_customer", func(rec entitlements.Record, now time.Time) (mutation, error) {
		mut := mutation{next: rec}
		if rec.ExternalCustomerID == "" {
			mut.next.ExternalCustomerID = customerID
			mut.detail = fmt.Sprintf("customer=%s", customerID)
		} else if rec.ExternalCustomerID != customerID {
			log.Warnf("[Billing] user=%d already linked to customer %s, %s is a duplicate", userID, rec.ExternalCustomerID, customerID)
		}
		return mut, nil
	})
	return err
}
