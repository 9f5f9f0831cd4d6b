package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// InFlightLocker guards an event against concurrent processing.
type InFlightLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Service wires the manager, gift store and webhook ledger together.
type Service struct {
	repo   Repository
	cfg    Config
	locker InFlightLocker

	Manager *EntitlementManager
	Gifts   *GiftStore
	Ledger  *WebhookLedger
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, provider Provider, cfg Config) *Service {
	cfg = cfg.normalized()
	return &Service{
		repo:    repo,
		cfg:     cfg,
		Manager: NewEntitlementManager(repo, provider, cfg),
		Gifts:   NewGiftStore(repo, cfg),
		Ledger:  NewWebhookLedger(repo),
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider, cfg Config) *Service {
	return NewService(NewRepository(db), provider, cfg)
}

// WithLocker enables the webhook in-flight lock.
func (s *Service) WithLocker(l InFlightLocker) *Service {
	s.locker = l
	return s
}

// SetClock replaces the time source of every component.
func (s *Service) SetClock(now func() time.Time) {
	s.Manager.SetClock(now)
	s.Gifts.SetClock(now)
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Repository() Repository {
	return s.repo
}

// RedeemGift claims token for redeemerID and applies it. If applying fails
// the claim is released so the token can be redeemed again.
func (s *Service) RedeemGift(ctx context.Context, token string, redeemerID uint) (RedemptionResult, error) {
	g, err := s.Gifts.Redeem(ctx, token, redeemerID)
	if err != nil {
		giftRedemptionsTotal.WithLabelValues(redemptionLabel(err)).Inc()
		return RedemptionResult{}, err
	}

	actor := fmt.Sprintf("user:%d", redeemerID)
	tier := normalizeTier(g.Tier)
	duration, err := entitlements.ParseDuration(g.Duration)
	if err != nil {
		s.release(ctx, g, redeemerID, err)
		return RedemptionResult{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	outcome, err := s.Manager.ApplyGiftSubscription(ctx, redeemerID, tier, duration, actor)
	if err != nil {
		giftRedemptionsTotal.WithLabelValues("apply_failed").Inc()
		s.release(ctx, g, redeemerID, err)
		return RedemptionResult{}, err
	}

	entry := models.GiftAuditEntry{
		Event:  "redeemed",
		Actor:  actor,
		Detail: fmt.Sprintf("transition=%s expiry=%s", outcome.Transition, outcome.NewExpiry.Format(time.RFC3339)),
	}
	if err := s.Gifts.AppendAudit(ctx, g, entry); err != nil {
		log.Errorf("[GiftStore] failed to record redemption audit for gift %d: %v", g.ID, err)
	}
	giftRedemptionsTotal.WithLabelValues("redeemed").Inc()
	log.Infof("[GiftStore] user=%d redeemed gift %d: %s %s", redeemerID, g.ID, outcome.Transition, tier)

	return RedemptionResult{
		Tier:        tier,
		Duration:    duration,
		NewExpiry:   outcome.NewExpiry,
		Transition:  outcome.Transition,
		Description: outcome.Transition.Describe(),
		Status:      outcome.After,
	}, nil
}

func (s *Service) release(ctx context.Context, g *models.GiftToken, redeemerID uint, cause error) {
	if err := s.Gifts.Release(context.WithoutCancel(ctx), g, redeemerID, cause.Error()); err != nil {
		log.Errorf("[GiftStore] failed to release gift %d after error %v: %v", g.ID, cause, err)
	}
}

func redemptionLabel(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidOrRedeemedToken):
		return "invalid"
	default:
		return "error"
	}
}

// EntitlementView is the public read model of an account.
type EntitlementView struct {
	UserID                   uint                `json:"user_id"`
	Status                   entitlements.Status `json:"status"`
	Tier                     entitlements.Tier   `json:"tier"`
	TierPlus                 bool                `json:"tier_plus"`
	TierMiniPlus             bool                `json:"tier_mini_plus"`
	SubscriptionEndDate      *time.Time          `json:"subscription_end_date,omitempty"`
	PreviousTier             entitlements.Tier   `json:"previous_tier,omitempty"`
	Paused                   bool                `json:"paused"`
	CreditPlusBalanceEnd     *time.Time          `json:"credit_plus_balance_end,omitempty"`
	CreditMiniPlusBalanceEnd *time.Time          `json:"credit_mini_plus_balance_end,omitempty"`
}

// Entitlement returns the account's current effective entitlement.
func (s *Service) Entitlement(ctx context.Context, userID uint) (EntitlementView, error) {
	rec, status, err := s.Manager.Status(ctx, userID)
	if err != nil {
		return EntitlementView{}, err
	}
	return EntitlementView{
		UserID:                   rec.UserID,
		Status:                   status,
		Tier:                     status.Tier(),
		TierPlus:                 rec.TierPlus,
		TierMiniPlus:             rec.TierMiniPlus,
		SubscriptionEndDate:      rec.SubscriptionEndDate,
		PreviousTier:             rec.PreviousTier,
		Paused:                   rec.IsPaused(),
		CreditPlusBalanceEnd:     rec.CreditPlusBalanceEnd,
		CreditMiniPlusBalanceEnd: rec.CreditMiniPlusBalanceEnd,
	}, nil
}
