package jobqueue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Subsystem: "sweeper",
		Name:      "items_total",
		Help:      "Accounts handled by sweeps, by sweeper and result.",
	}, []string{"sweeper", "result"})

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusledger",
		Subsystem: "jobqueue",
		Name:      "jobs_total",
		Help:      "Billing jobs executed, by type and result.",
	}, []string{"type", "result"})

	leaseHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "plusledger",
		Subsystem: "sweeper",
		Name:      "lease_held",
		Help:      "1 while this process holds the sweeper lease.",
	})
)

// RegisterMetrics adds the queue and sweeper collectors to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{sweepItemsTotal, jobsTotal, leaseHeld} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
