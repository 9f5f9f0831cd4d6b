package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

const maxTokenAttempts = 5

// GiftStore issues and redeems gift tokens. Redemption is a single
// conditional update so a token is claimed at most once.
type GiftStore struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewGiftStore creates a store. cfg.GiftTokenTTL of zero issues tokens that
// never expire.
func NewGiftStore(repo Repository, cfg Config) *GiftStore {
	return &GiftStore{
		repo: repo,
		ttl:  cfg.normalized().GiftTokenTTL,
		now:  func() time.Time { return time.Now() },
	}
}

// SetClock replaces the time source.
func (s *GiftStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *GiftStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Issue creates a pending token. When checkoutSessionID is set and a token
// for that session exists, the existing token is returned.
func (s *GiftStore) Issue(ctx context.Context, purchaserID uint, tier entitlements.Tier, duration entitlements.Duration, checkoutSessionID *string) (*models.GiftToken, error) {
	if err := validateGrant(tier, duration); err != nil {
		return nil, err
	}
	if purchaserID == 0 {
		return nil, errors.New("purchaser is required")
	}

	var session *string
	if checkoutSessionID != nil && strings.TrimSpace(*checkoutSessionID) != "" {
		v := strings.TrimSpace(*checkoutSessionID)
		session = &v
		if existing, err := s.repo.FindGiftTokenByCheckoutSession(ctx, v); err == nil {
			return existing, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	now := s.clock()
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		value, err := models.NewGiftTokenValue()
		if err != nil {
			return nil, err
		}
		g := &models.GiftToken{
			Token:                     value,
			Tier:                      string(tier),
			Duration:                  string(duration),
			Status:                    models.GiftStatusPending,
			PurchasedByUserID:         purchaserID,
			ExternalCheckoutSessionID: session,
		}
		if s.ttl > 0 {
			exp := now.Add(s.ttl)
			g.ExpiresAt = &exp
		}
		if err := g.AppendAudit(models.GiftAuditEntry{At: now, Event: "issued", Actor: fmt.Sprintf("user:%d", purchaserID)}); err != nil {
			return nil, err
		}

		created, err := s.repo.CreateGiftTokenIfAbsent(ctx, g)
		if err != nil {
			return nil, err
		}
		if created {
			log.Infof("[GiftStore] issued %s/%s gift %d for purchaser=%d", tier, duration, g.ID, purchaserID)
			return g, nil
		}
		if session != nil {
			if existing, err := s.repo.FindGiftTokenByCheckoutSession(ctx, *session); err == nil {
				return existing, nil
			}
		}
		log.Warnf("[GiftStore] token collision, regenerating (attempt %d/%d)", attempt, maxTokenAttempts)
	}
	return nil, fmt.Errorf("could not generate a unique gift token after %d attempts", maxTokenAttempts)
}

// FindRedeemable returns the token if it can still be redeemed, else nil.
func (s *GiftStore) FindRedeemable(ctx context.Context, token string) (*models.GiftToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	g, err := s.repo.FindGiftTokenByValue(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !g.IsPending() || g.PastDeadline(s.clock()) {
		return nil, nil
	}
	return g, nil
}

// Redeem claims token for redeemerID. Of any number of concurrent callers at
// most one succeeds.
func (s *GiftStore) Redeem(ctx context.Context, token string, redeemerID uint) (*models.GiftToken, error) {
	token = strings.TrimSpace(token)
	if token == "" || redeemerID == 0 {
		return nil, ErrInvalidOrRedeemedToken
	}

	now := s.clock()
	ok, err := s.repo.ClaimGiftToken(ctx, token, redeemerID, now)
	if err != nil {
		return nil, err
	}
	g, err := s.repo.FindGiftTokenByValue(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidOrRedeemedToken
		}
		return nil, err
	}
	if !ok {
		if g.Status == models.GiftStatusExpired || (g.IsPending() && g.PastDeadline(now)) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidOrRedeemedToken
	}
	return g, nil
}

// Release returns a claimed token to pending. It is used only when applying
// the gift failed after the claim.
// Redeemed is otherwise terminal; the revert is audited as claim_reverted.
func (s *GiftStore) Release(ctx context.Context, g *models.GiftToken, redeemerID uint, reason string) error {
	ok, err := s.repo.ReleaseGiftToken(ctx, g.ID, redeemerID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warnf("[GiftStore] gift %d was not held by user=%d, nothing released", g.ID, redeemerID)
		return nil
	}
	g.Status = models.GiftStatusPending
	g.RedeemedByUserID = nil
	g.RedeemedAt = nil
	log.Warnf("[GiftStore] released gift %d claimed by user=%d: %s", g.ID, redeemerID, reason)
	return s.AppendAudit(ctx, g, models.GiftAuditEntry{Event: "claim_reverted", Actor: fmt.Sprintf("user:%d", redeemerID), Detail: reason})
}

// AppendAudit adds entry to the token's trail and persists it.
func (s *GiftStore) AppendAudit(ctx context.Context, g *models.GiftToken, entry models.GiftAuditEntry) error {
	if entry.At.IsZero() {
		entry.At = s.clock()
	}
	if err := g.AppendAudit(entry); err != nil {
		return err
	}
	return s.repo.UpdateGiftMetadata(ctx, g.ID, g.MetadataJSON)
}

// SweepExpired moves pending tokens past their deadline to expired.
func (s *GiftStore) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireGiftTokens(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[GiftStore] expired %d pending gift tokens", n)
	}
	return n, nil
}
