package entitlements

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a paid feature level. Plus is a strict superset of Mini+.
type Tier string

const (
	TierNone     Tier = ""
	TierMiniPlus Tier = "mini_plus"
	TierPlus     Tier = "plus"
)

// Duration is the length of one gift or subscription period.
type Duration string

const (
	DurationMonth Duration = "month"
	DurationYear  Duration = "year"
)

// ParseTier accepts the canonical names plus a few provider spellings.
func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "plus":
		return TierPlus, nil
	case "mini_plus", "miniplus", "mini+", "mini-plus":
		return TierMiniPlus, nil
	default:
		return TierNone, fmt.Errorf("unknown tier %q", raw)
	}
}

// ParseDuration accepts month/year (and their -ly forms).
func ParseDuration(raw string) (Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "month", "monthly":
		return DurationMonth, nil
	case "year", "yearly", "annual":
		return DurationYear, nil
	default:
		return "", fmt.Errorf("unknown duration %q", raw)
	}
}

// AddTo advances t by one period using calendar arithmetic.
func (d Duration) AddTo(t time.Time) time.Time {
	if d == DurationYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// TierRank orders tiers; higher is better.
func TierRank(t Tier) int {
	switch t {
	case TierPlus:
		return 2
	case TierMiniPlus:
		return 1
	default:
		return 0
	}
}

// Record is the billing-relevant slice of an account. It carries the
// optimistic version it was read at so writers can detect lost updates.
type Record struct {
	UserID                       uint
	Version                      int64
	TierPlus                     bool
	TierMiniPlus                 bool
	SubscriptionEndDate          *time.Time
	PreviousTier                 Tier
	PausedExternalSubscriptionID string
	CreditPlusBalanceEnd         *time.Time
	CreditMiniPlusBalanceEnd     *time.Time
	ExternalCustomerID           string
	ExternalSubscriptionID       string
}

// Clone returns a deep copy so planners can mutate freely.
func (r Record) Clone() Record {
	out := r
	out.SubscriptionEndDate = cloneTime(r.SubscriptionEndDate)
	out.CreditPlusBalanceEnd = cloneTime(r.CreditPlusBalanceEnd)
	out.CreditMiniPlusBalanceEnd = cloneTime(r.CreditMiniPlusBalanceEnd)
	return out
}

// FlagTier is the tier the denormalized flags currently claim.
func (r Record) FlagTier() Tier {
	if r.TierPlus {
		return TierPlus
	}
	if r.TierMiniPlus {
		return TierMiniPlus
	}
	return TierNone
}

// SetFlags makes the flags claim exactly t.
func (r *Record) SetFlags(t Tier) {
	r.TierPlus = t == TierPlus
	r.TierMiniPlus = t == TierMiniPlus
}

// PaidTier is the tier of the paid subscription. While a higher credit is
// layered on top, the paid tier is parked in PreviousTier.
func (r Record) PaidTier() Tier {
	if r.PreviousTier != TierNone {
		return r.PreviousTier
	}
	return r.FlagTier()
}

// PaidActive reports whether a paid subscription runs past now.
func (r Record) PaidActive(now time.Time) bool {
	return after(r.SubscriptionEndDate, now) && r.PaidTier() != TierNone
}

// IsPaused reports whether an external subscription is currently suspended.
func (r Record) IsPaused() bool {
	return r.PausedExternalSubscriptionID != ""
}

// CreditEnd returns the credit bucket for t.
func (r Record) CreditEnd(t Tier) *time.Time {
	switch t {
	case TierPlus:
		return r.CreditPlusBalanceEnd
	case TierMiniPlus:
		return r.CreditMiniPlusBalanceEnd
	default:
		return nil
	}
}

// SetCreditEnd replaces the credit bucket for t.
func (r *Record) SetCreditEnd(t Tier, end *time.Time) {
	switch t {
	case TierPlus:
		r.CreditPlusBalanceEnd = end
	case TierMiniPlus:
		r.CreditMiniPlusBalanceEnd = end
	}
}

// CreditActive reports whether the bucket for t runs past now.
func (r Record) CreditActive(t Tier, now time.Time) bool {
	return after(r.CreditEnd(t), now)
}

// CreditCovers reports whether some credit of tier t or better is active.
func (r Record) CreditCovers(t Tier, now time.Time) bool {
	if r.CreditActive(TierPlus, now) {
		return true
	}
	return t == TierMiniPlus && r.CreditActive(TierMiniPlus, now)
}

// CoverageEnd is the latest instant up to which tier t (or better) is
// already covered by credit or by an active paid subscription.
func (r Record) CoverageEnd(t Tier, now time.Time) time.Time {
	end := now
	end = latest(end, r.CreditPlusBalanceEnd)
	if t == TierMiniPlus {
		end = latest(end, r.CreditMiniPlusBalanceEnd)
	}
	if r.PaidActive(now) && TierRank(r.PaidTier()) >= TierRank(t) && !r.IsPaused() {
		end = latest(end, r.SubscriptionEndDate)
	}
	return end
}

// Equal compares every entitlement field except Version.
func (r Record) Equal(o Record) bool {
	return r.UserID == o.UserID &&
		r.TierPlus == o.TierPlus &&
		r.TierMiniPlus == o.TierMiniPlus &&
		sameTime(r.SubscriptionEndDate, o.SubscriptionEndDate) &&
		r.PreviousTier == o.PreviousTier &&
		r.PausedExternalSubscriptionID == o.PausedExternalSubscriptionID &&
		sameTime(r.CreditPlusBalanceEnd, o.CreditPlusBalanceEnd) &&
		sameTime(r.CreditMiniPlusBalanceEnd, o.CreditMiniPlusBalanceEnd) &&
		r.ExternalCustomerID == o.ExternalCustomerID &&
		r.ExternalSubscriptionID == o.ExternalSubscriptionID
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func after(t *time.Time, now time.Time) bool {
	return t != nil && t.After(now)
}

func latest(cur time.Time, t *time.Time) time.Time {
	if t != nil && t.After(cur) {
		return *t
	}
	return cur
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
