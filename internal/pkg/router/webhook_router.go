package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PlusLedger/app/controllers"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/constants"
)

type WebhookRouter struct {
	deps Dependencies
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.StripeWebhookSecret)
	app.Post(constants.StripeWebhookRoute, billingController.HandleStripeWebhook)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
