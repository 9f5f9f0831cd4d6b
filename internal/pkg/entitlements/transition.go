package entitlements

// Transition is what redeeming a gift does to an account.
type Transition string

const (
	TransitionActivate       Transition = "activate"
	TransitionExtend         Transition = "extend"
	TransitionUpgrade        Transition = "upgrade"
	TransitionCreditForLater Transition = "credit_for_later"
	TransitionExtendViaPause Transition = "extend_via_pause"
	TransitionNone           Transition = ""
)

// DecideGift maps (current effective tier, gift tier) to a transition.
//
//	current \ gift | Mini+            | Plus
//	Free           | activate         | activate
//	Mini+          | extend           | upgrade
//	Plus           | credit_for_later | extend_via_pause
func DecideGift(current Status, gift Tier) Transition {
	switch current.Tier() {
	case TierNone:
		switch gift {
		case TierMiniPlus, TierPlus:
			return TransitionActivate
		}
	case TierMiniPlus:
		switch gift {
		case TierMiniPlus:
			return TransitionExtend
		case TierPlus:
			return TransitionUpgrade
		}
	case TierPlus:
		switch gift {
		case TierMiniPlus:
			return TransitionCreditForLater
		case TierPlus:
			return TransitionExtendViaPause
		}
	}
	return TransitionNone
}

// Describe returns the user-facing wording.
func (t Transition) Describe() string {
	switch t {
	case TransitionActivate:
		return "activated"
	case TransitionExtend, TransitionExtendViaPause:
		return "extended"
	case TransitionUpgrade:
		return "upgraded"
	case TransitionCreditForLater:
		return "credited"
	default:
		return "unchanged"
	}
}
