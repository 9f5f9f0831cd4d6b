package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
)

// respondBillingError maps engine errors onto HTTP statuses.
func respondBillingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrAccountNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Account not found"})
	case errors.Is(err, billing.ErrStaleWrite):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "retry", "message": "Account was modified concurrently, retry the request"})
	case errors.Is(err, billing.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, billing.ErrProviderNotConfigured), billing.IsExternalProviderError(err):
		log.Errorf("[Billing] provider failure: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Billing provider request failed"})
	default:
		log.Errorf("[Billing] request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing operation failed"})
	}
}
