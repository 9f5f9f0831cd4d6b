package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
)

// BillingProcessor runs billing jobs against the entitlement engine.
type BillingProcessor struct {
	svc *billing.Service
}

func NewBillingProcessor(svc *billing.Service) *BillingProcessor {
	return &BillingProcessor{svc: svc}
}

// Handle executes one job. Failures that a retry cannot fix are wrapped in
// ErrPermanent.
func (p *BillingProcessor) Handle(ctx context.Context, job *Job) error {
	err := p.handle(ctx, job)
	result := "ok"
	switch {
	case err == nil:
	case isPermanent(err):
		result = "dropped"
		if !errors.Is(err, ErrPermanent) {
			err = fmt.Errorf("%w: %w", ErrPermanent, err)
		}
	default:
		result = "failed"
	}
	jobsTotal.WithLabelValues(string(job.Type), result).Inc()
	return err
}

func (p *BillingProcessor) handle(ctx context.Context, job *Job) error {
	if job.Type == JobTypeSweepGiftTokens {
		n, err := p.svc.Gifts.SweepExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Infof("[JobQueue] expired %d gift tokens", n)
		}
		return nil
	}

	payload, err := AccountJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrPermanent, job.ID, err)
	}
	actor := payload.Actor
	if actor == "" {
		actor = "sweeper:" + string(job.Type)
	}

	switch job.Type {
	case JobTypeCheckExpiring:
		horizon := p.svc.Manager.Now().Add(p.svc.Config().ResumeLead)
		resumed, err := p.svc.Manager.ResumeBilling(ctx, payload.UserID, horizon, actor)
		if err != nil {
			return err
		}
		if resumed {
			log.Infof("[JobQueue] billing resumed for user=%d", payload.UserID)
		}
		return nil

	case JobTypeDailyCheck:
		out, err := p.svc.Manager.HandleSubscriptionExpiration(ctx, payload.UserID, actor)
		if err != nil {
			return err
		}
		if out.Changed {
			log.Infof("[JobQueue] user=%d %s -> %s (%s)", payload.UserID, out.Before, out.After, out.Label)
		}
		return nil

	case JobTypeCleanupCustomers:
		res, err := p.svc.Manager.CleanupDuplicateCustomers(ctx, payload.UserID, actor)
		if err != nil {
			return err
		}
		if len(res.Conflicts) > 0 {
			log.Warnf("[JobQueue] user=%d has customers with active subscriptions besides %s: %v", payload.UserID, res.Canonical, res.Conflicts)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown job type: %s", ErrPermanent, job.Type)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, billing.ErrAccountNotFound) ||
		errors.Is(err, billing.ErrInvalidTransition) ||
		errors.Is(err, billing.ErrProviderNotConfigured)
}
