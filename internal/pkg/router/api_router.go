package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PlusLedger/app/controllers"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{Max: 120}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.StripeWebhookSecret)

	v1 := api.Group(constants.APIV1Route, middleware.APIKeyAuthMiddleware())
	v1.Get("/entitlement", billingController.HandleGetEntitlement)
	v1.Post("/gifts/redeem",
		middleware.RedeemRateLimiter(h.deps.RedeemPerMinute, h.deps.RateLimitStorage),
		billingController.HandleRedeemGift,
	)

	h.registerAdminRoutes(v1)
}

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	var sweeps controllers.SweepRunner
	var queue controllers.QueueInspector
	if h.deps.Jobs != nil {
		sweeps = h.deps.Jobs
		queue = h.deps.Jobs.GetQueue()
	}
	adminController := controllers.NewAdminBillingController(h.deps.Billing, sweeps, queue, h.deps.Repositories.Audit)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Post("/users/:id/subscription", adminController.HandleSubscriptionAction)
	admin.Post("/users/:id/gift-credit", adminController.HandleGiftCredit)
	admin.Post("/users/:id/resync", adminController.HandleResync)
	admin.Post("/users/:id/cleanup-customers", adminController.HandleCleanupCustomers)
	admin.Get("/users/:id/audit", adminController.HandleAuditLog)
	admin.Post("/sweeps/expiration", adminController.HandleExpirationSweep)
	admin.Post("/sweeps/resume", adminController.HandleResumeSweep)
	admin.Get("/queue", adminController.HandleQueueStats)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
