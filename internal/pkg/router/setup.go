package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/PlusLedger/app/repository"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/jobqueue"
)

// Router registers one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the routes are served by.
type Dependencies struct {
	Billing *billing.Service
	// Jobs is nil when this process runs no job queue.
	Jobs         *jobqueue.Manager
	Repositories *repository.Repositories

	// RateLimitStorage shares the redemption limiter across instances; nil
	// keeps counters in memory.
	RateLimitStorage fiber.Storage
	RedeemPerMinute  int

	StripeWebhookSecret string

	Metrics             prometheus.Gatherer
	MetricsUser         string
	MetricsPasswordHash string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	if deps.Repositories == nil {
		deps.Repositories = repository.GetGlobalFactory().GetRepositories()
	}
	// Webhooks carry their own signature and must not share the API limiter.
	setup(app, NewWebhookRouter(deps), NewMetricsRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
