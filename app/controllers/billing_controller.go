package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/usercontext"
)

const webhookTimeout = 15 * time.Second

var validate = validator.New()

// BillingController serves the provider webhook and the user facing
// entitlement endpoints.
type BillingController struct {
	svc           *billing.Service
	webhookSecret string
}

// NewBillingController creates a billing controller. An empty webhook
// secret rejects every webhook delivery.
func NewBillingController(svc *billing.Service, webhookSecret string) *BillingController {
	return &BillingController{svc: svc, webhookSecret: strings.TrimSpace(webhookSecret)}
}

type redeemRequest struct {
	Token string `json:"token" validate:"required,min=8,max=128"`
}

// HandleStripeWebhook verifies and applies one Stripe event. It answers 200
// only once the ledger holds the event so Stripe redelivers anything else.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	evt, err := billing.ParseStripeEvent(rawBody, signature, bc.webhookSecret)
	if err != nil {
		if errors.Is(err, billing.ErrProviderNotConfigured) {
			log.Errorf("[Webhook] stripe webhook secret is not configured")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
		}
		log.Warnf("[Webhook] rejected stripe delivery: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature_or_payload"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res, err := bc.svc.ProcessWebhookEvent(ctx, evt)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrEventInFlight):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_in_flight"})
		case errors.Is(err, billing.ErrInvalidWebhook):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": res.Duplicate, "ignored": res.Ignored})
}

// HandleGetEntitlement returns the caller's effective entitlement.
func (bc *BillingController) HandleGetEntitlement(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	view, err := bc.svc.Entitlement(c.UserContext(), userCtx.UserID)
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// HandleRedeemGift redeems a gift token for the caller.
func (bc *BillingController) HandleRedeemGift(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req redeemRequest
	if msg := bindAndValidate(c, &req); msg != nil {
		return c.Status(fiber.StatusBadRequest).JSON(msg)
	}

	res, err := bc.svc.RedeemGift(c.UserContext(), strings.TrimSpace(req.Token), userCtx.UserID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidOrRedeemedToken):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invalid_or_redeemed_token", "message": "Gift token is invalid or already redeemed"})
		case errors.Is(err, billing.ErrTokenExpired):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "token_expired", "message": "Gift token has expired"})
		}
		return respondBillingError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(res)
}

// bindAndValidate parses the JSON body into dst and runs the struct
// validator. It returns the 400 body on failure.
func bindAndValidate(c *fiber.Ctx, dst interface{}) fiber.Map {
	if err := c.BodyParser(dst); err != nil {
		return fiber.Map{"error": "invalid_request", "message": "Request body is not valid JSON"}
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.Map{"error": "validation_failed", "message": err.Error()}
	}
	return nil
}
