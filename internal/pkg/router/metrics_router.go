package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/middleware"
)

type MetricsRouter struct {
	deps Dependencies
}

func (h MetricsRouter) InstallRouter(app *fiber.App) {
	gatherer := h.deps.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get(constants.MetricsRoute,
		middleware.MetricsBasicAuth(h.deps.MetricsUser, h.deps.MetricsPasswordHash),
		adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
	)
}

func NewMetricsRouter(deps Dependencies) *MetricsRouter {
	return &MetricsRouter{deps: deps}
}
