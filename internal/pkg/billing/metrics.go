package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "entitlement_transitions_total",
		Help:      "Committed entitlement mutations by action.",
	}, []string{"action"})

	staleWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "entitlement_stale_writes_total",
		Help:      "Versioned writes that lost a race and were replanned.",
	}, []string{"action"})

	providerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "provider_errors_total",
		Help:      "Failed billing provider calls by operation.",
	}, []string{"op"})

	compensationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "provider_compensations_total",
		Help:      "Provider calls issued to undo an uncommitted pause or resume.",
	}, []string{"op"})

	giftRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "gift_redemptions_total",
		Help:      "Gift redemption attempts by result.",
	}, []string{"result"})

	webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Name:      "webhook_events_total",
		Help:      "Processed provider webhook events by type and result.",
	}, []string{"type", "result"})
)

// RegisterMetrics adds the billing collectors to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		transitionsTotal,
		staleWritesTotal,
		providerErrorsTotal,
		compensationsTotal,
		giftRedemptionsTotal,
		webhookEventsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
