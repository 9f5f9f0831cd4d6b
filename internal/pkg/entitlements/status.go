package entitlements

import "time"

// Status is the derived, never stored, entitlement state of an account.
type Status string

const (
	StatusFree           Status = "FREE"
	StatusPlus           Status = "PLUS"
	StatusMiniPlus       Status = "MINI_PLUS"
	StatusPlusCredit     Status = "PLUS_CREDIT"
	StatusMiniPlusCredit Status = "MINI_PLUS_CREDIT"
	StatusPlusPaused     Status = "PLUS_PAUSED"
	StatusMiniPlusPaused Status = "MINI_PLUS_PAUSED"

	// Outcome labels. Resolve never returns these; they describe what a
	// transition did to an account.
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Resolve computes the effective status at now. First match wins:
//
//  1. Plus credit active: PLUS_PAUSED when a subscription is paused, else PLUS_CREDIT.
//  2. Mini+ credit active and no paid Plus running: MINI_PLUS_PAUSED / MINI_PLUS_CREDIT.
//  3. Paid Plus running: PLUS.
//  4. Paid Mini+ running: MINI_PLUS.
//  5. FREE.
//
// The "no paid Plus running" guard in rule 2 refines plain credit-over-paid
// precedence: banked Mini+ credit never hides a higher paid tier.
func Resolve(r Record, now time.Time) Status {
	paused := r.IsPaused()
	if r.CreditActive(TierPlus, now) {
		if paused {
			return StatusPlusPaused
		}
		return StatusPlusCredit
	}

	paidPlus := r.PaidActive(now) && r.PaidTier() == TierPlus
	if r.CreditActive(TierMiniPlus, now) && !paidPlus {
		if paused {
			return StatusMiniPlusPaused
		}
		return StatusMiniPlusCredit
	}

	if after(r.SubscriptionEndDate, now) {
		switch r.PaidTier() {
		case TierPlus:
			return StatusPlus
		case TierMiniPlus:
			return StatusMiniPlus
		}
	}
	return StatusFree
}

// Tier is the tier the status grants access to.
func (s Status) Tier() Tier {
	switch s {
	case StatusPlus, StatusPlusCredit, StatusPlusPaused:
		return TierPlus
	case StatusMiniPlus, StatusMiniPlusCredit, StatusMiniPlusPaused:
		return TierMiniPlus
	default:
		return TierNone
	}
}

func (s Status) IsCredit() bool {
	switch s {
	case StatusPlusCredit, StatusMiniPlusCredit, StatusPlusPaused, StatusMiniPlusPaused:
		return true
	}
	return false
}

func (s Status) IsPaused() bool {
	return s == StatusPlusPaused || s == StatusMiniPlusPaused
}

// HasAccess reports whether the status grants any paid feature.
func (s Status) HasAccess() bool {
	return s.Tier() != TierNone
}
