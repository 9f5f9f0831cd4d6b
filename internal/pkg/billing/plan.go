package billing

import (
	"strings"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

func normalizeTier(raw string) entitlements.Tier {
	t, err := entitlements.ParseTier(raw)
	if err != nil {
		return entitlements.TierNone
	}
	return t
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "year":
		return i
	default:
		return "unknown"
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
