package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/app/repository"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/usercontext"
)

// SweepRunner runs sweeps in the request goroutine.
type SweepRunner interface {
	RunNow(ctx context.Context, actor string) (jobqueue.SweepReport, error)
	RunResumeNow(ctx context.Context, actor string) (jobqueue.SweepReport, error)
}

// QueueInspector reports the background queue state.
type QueueInspector interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// AdminBillingController handles the admin billing API
type AdminBillingController struct {
	svc    *billing.Service
	sweeps SweepRunner
	queue  QueueInspector
	audit  repository.AuditRepository
}

// NewAdminBillingController creates the admin controller. sweeps and queue
// may be nil when no job manager runs in this process.
func NewAdminBillingController(svc *billing.Service, sweeps SweepRunner, queue QueueInspector, audit repository.AuditRepository) *AdminBillingController {
	return &AdminBillingController{svc: svc, sweeps: sweeps, queue: queue, audit: audit}
}

type subscriptionActionRequest struct {
	Action   string `json:"action" validate:"required,oneof=add extend remove downgrade upgrade"`
	Tier     string `json:"tier" validate:"omitempty,max=20"`
	Duration string `json:"duration" validate:"omitempty,max=20"`
}

type giftCreditRequest struct {
	Tier     string `json:"tier" validate:"required,max=20"`
	Duration string `json:"duration" validate:"required,max=20"`
}

// HandleSubscriptionAction applies add, extend, remove, downgrade or upgrade
// to a user's paid subscription.
func (ac *AdminBillingController) HandleSubscriptionAction(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id", "message": "User id must be a positive integer"})
	}
	var req subscriptionActionRequest
	if msg := bindAndValidate(c, &req); msg != nil {
		return c.Status(fiber.StatusBadRequest).JSON(msg)
	}

	actor := usercontext.Actor(c)
	ctx := c.UserContext()
	resp := fiber.Map{"action": req.Action}

	switch req.Action {
	case "add":
		tier, duration, msg := parseGrant(req.Tier, req.Duration)
		if msg != nil {
			return c.Status(fiber.StatusBadRequest).JSON(msg)
		}
		expiry, err := ac.svc.Manager.AdminAddSubscription(ctx, userID, tier, duration, actor)
		if err != nil {
			return respondBillingError(c, err)
		}
		resp["expiry"] = expiry

	case "extend":
		duration, err := entitlements.ParseDuration(req.Duration)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		}
		tier := entitlements.TierNone
		if req.Tier != "" {
			if tier, err = entitlements.ParseTier(req.Tier); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
			}
		}
		expiry, err := ac.svc.Manager.ExtendSubscription(ctx, userID, duration, tier, actor)
		if err != nil {
			return respondBillingError(c, err)
		}
		resp["expiry"] = expiry

	case "remove":
		if _, err := ac.svc.Manager.AdminRemoveSubscription(ctx, userID, actor); err != nil {
			return respondBillingError(c, err)
		}

	case "downgrade", "upgrade":
		tier := entitlements.TierPlus
		if req.Action == "downgrade" {
			tier = entitlements.TierMiniPlus
		}
		if _, err := ac.svc.Manager.AdminChangeTier(ctx, userID, tier, actor); err != nil {
			return respondBillingError(c, err)
		}
	}

	log.Infof("[Admin] %s applied %s to user=%d", actor, req.Action, userID)
	return ac.respondWithEntitlement(c, userID, resp)
}

// HandleGiftCredit banks a credit on a user's account.
func (ac *AdminBillingController) HandleGiftCredit(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id", "message": "User id must be a positive integer"})
	}
	var req giftCreditRequest
	if msg := bindAndValidate(c, &req); msg != nil {
		return c.Status(fiber.StatusBadRequest).JSON(msg)
	}
	tier, duration, msg := parseGrant(req.Tier, req.Duration)
	if msg != nil {
		return c.Status(fiber.StatusBadRequest).JSON(msg)
	}

	actor := usercontext.Actor(c)
	expiry, err := ac.svc.Manager.StoreGiftCredit(c.UserContext(), userID, tier, duration, actor)
	if err != nil {
		return respondBillingError(c, err)
	}
	log.Infof("[Admin] %s granted %s %s credit to user=%d", actor, duration, tier, userID)
	return ac.respondWithEntitlement(c, userID, fiber.Map{"credit_expiry": expiry})
}

// HandleResync recomputes a user's flags from the stored timestamps.
func (ac *AdminBillingController) HandleResync(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id", "message": "User id must be a positive integer"})
	}
	actor := usercontext.Actor(c)
	if _, err := ac.svc.Manager.UpdateSubscriptionStatus(c.UserContext(), userID, actor); err != nil {
		return respondBillingError(c, err)
	}
	log.Infof("[Admin] %s resynced user=%d", actor, userID)
	return ac.respondWithEntitlement(c, userID, fiber.Map{})
}

// HandleCleanupCustomers reconciles duplicate provider customers of a user.
func (ac *AdminBillingController) HandleCleanupCustomers(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id", "message": "User id must be a positive integer"})
	}
	actor := usercontext.Actor(c)
	res, err := ac.svc.Manager.CleanupDuplicateCustomers(c.UserContext(), userID, actor)
	if err != nil {
		return respondBillingError(c, err)
	}
	log.Infof("[Admin] %s cleaned up customers of user=%d: kept %s, removed %d", actor, userID, res.Canonical, len(res.Removed))
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleExpirationSweep runs the expiration sweep synchronously.
func (ac *AdminBillingController) HandleExpirationSweep(c *fiber.Ctx) error {
	if ac.sweeps == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "sweeps_unavailable", "message": "No job manager in this process"})
	}
	return ac.runSweep(c, "expiration", ac.sweeps.RunNow)
}

// HandleResumeSweep runs the resume sweep synchronously.
func (ac *AdminBillingController) HandleResumeSweep(c *fiber.Ctx) error {
	if ac.sweeps == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "sweeps_unavailable", "message": "No job manager in this process"})
	}
	return ac.runSweep(c, "resume", ac.sweeps.RunResumeNow)
}

func (ac *AdminBillingController) runSweep(c *fiber.Ctx, name string, run func(ctx context.Context, actor string) (jobqueue.SweepReport, error)) error {
	actor := usercontext.Actor(c)
	report, err := run(c.UserContext(), actor)
	if err != nil {
		log.Errorf("[Admin] %s sweep by %s failed: %v", name, actor, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed", "message": err.Error()})
	}
	log.Infof("[Admin] %s ran %s sweep: %d candidates, %d changed, %d failed", actor, name, report.Candidates, report.Changed, report.Failed)
	return c.Status(fiber.StatusOK).JSON(report)
}

// HandleAuditLog lists the newest audit entries of a user.
func (ac *AdminBillingController) HandleAuditLog(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id", "message": "User id must be a positive integer"})
	}
	entries, err := ac.audit.ListByUser(userID, c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load audit log"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user_id": userID, "entries": entries})
}

// HandleQueueStats reports the job queue counters.
func (ac *AdminBillingController) HandleQueueStats(c *fiber.Ctx) error {
	if ac.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": "No job queue in this process"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	stats, err := ac.queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": err.Error()})
	}
	pending, _ := ac.queue.GetQueueSize(ctx)
	processing, _ := ac.queue.GetProcessingSize(ctx)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
		"stats":      stats,
	})
}

func (ac *AdminBillingController) respondWithEntitlement(c *fiber.Ctx, userID uint, resp fiber.Map) error {
	view, err := ac.svc.Entitlement(c.UserContext(), userID)
	if err != nil {
		return respondBillingError(c, err)
	}
	resp["entitlement"] = view
	return c.Status(fiber.StatusOK).JSON(resp)
}

func parseUserID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parseGrant(rawTier, rawDuration string) (entitlements.Tier, entitlements.Duration, fiber.Map) {
	tier, err := entitlements.ParseTier(rawTier)
	if err != nil {
		return "", "", fiber.Map{"error": "validation_failed", "message": err.Error()}
	}
	duration, err := entitlements.ParseDuration(rawDuration)
	if err != nil {
		return "", "", fiber.Map{"error": "validation_failed", "message": err.Error()}
	}
	return tier, duration, nil
}
