package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// AccountStore loads and conditionally writes entitlement records.
type AccountStore interface {
	GetAccount(ctx context.Context, userID uint) (entitlements.Record, error)
	// SaveAccount writes rec only if the stored version still equals
	// rec.Version and returns the new version. A lost race yields ErrStaleWrite.
	SaveAccount(ctx context.Context, rec entitlements.Record) (int64, error)
	FindUserIDByCustomer(ctx context.Context, provider, customerID string) (uint, error)
	// The sweep queries page by id: they return at most limit ids greater
	// than afterID, ascending.
	ListResumeCandidates(ctx context.Context, horizon time.Time, afterID uint, limit int) ([]uint, error)
	ListLapsedAccounts(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error)
	ListDuplicateCustomerAccounts(ctx context.Context, provider string, afterID uint, limit int) ([]uint, error)
}

// Repository provides DB operations used by the billing package.
type Repository interface {
	AccountStore

	FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error)
	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error
	ListSubscriptionsByCustomers(ctx context.Context, provider string, customerIDs []string) ([]models.BillingSubscription, error)

	UpsertCustomer(ctx context.Context, c *models.BillingCustomer) error
	ListCustomers(ctx context.Context, userID uint, provider string) ([]models.BillingCustomer, error)
	MarkCustomerRemoved(ctx context.Context, provider, customerID string, at time.Time) error

	CreateGiftTokenIfAbsent(ctx context.Context, g *models.GiftToken) (bool, error)
	FindGiftTokenByValue(ctx context.Context, token string) (*models.GiftToken, error)
	FindGiftTokenByCheckoutSession(ctx context.Context, sessionID string) (*models.GiftToken, error)
	ClaimGiftToken(ctx context.Context, token string, redeemerID uint, now time.Time) (bool, error)
	ReleaseGiftToken(ctx context.Context, id, redeemerID uint) (bool, error)
	UpdateGiftMetadata(ctx context.Context, id uint, metadataJSON string) error
	ExpireGiftTokens(ctx context.Context, now time.Time) (int64, error)

	WebhookEventExists(ctx context.Context, provider, providerEventID string) (bool, error)
	InsertWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (bool, error)

	CreateAuditLog(ctx context.Context, entry *models.EntitlementAuditLog) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetAccount(ctx context.Context, userID uint) (entitlements.Record, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entitlements.Record{}, ErrAccountNotFound
		}
		return entitlements.Record{}, err
	}
	return u.EntitlementRecord(), nil
}

func (r *gormRepository) SaveAccount(ctx context.Context, rec entitlements.Record) (int64, error) {
	cols := models.EntitlementColumns(rec)
	next := rec.Version + 1
	cols["entitlement_version"] = next

	tx := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND entitlement_version = ?", rec.UserID, rec.Version).
		Updates(cols)
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		return 0, ErrStaleWrite
	}
	return next, nil
}

func (r *gormRepository) FindUserIDByCustomer(ctx context.Context, provider, customerID string) (uint, error) {
	u, err := models.FindUserByExternalCustomerID(r.db.WithContext(ctx), customerID)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	var c models.BillingCustomer
	err = r.db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id = ?", provider, customerID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return c.UserID, nil
}

// ListResumeCandidates returns paused accounts whose credit for the paused
// tier ends at or before horizon.
func (r *gormRepository) ListResumeCandidates(ctx context.Context, horizon time.Time, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id > ?", afterID).
		Where("paused_external_subscription_id <> ''").
		Where("(credit_plus_balance_end IS NULL OR credit_plus_balance_end <= ?)", horizon).
		Where("(credit_mini_plus_balance_end IS NULL OR credit_mini_plus_balance_end <= ? OR previous_tier = ? OR (previous_tier = '' AND tier_plus = ?))",
			horizon, string(entitlements.TierPlus), true).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListLapsedAccounts returns accounts holding a lapsed paid subscription or
// an uncleared lapsed credit bucket.
func (r *gormRepository) ListLapsedAccounts(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id > ?", afterID).
		Where("((subscription_end_date <= ? AND paused_external_subscription_id = '') OR credit_plus_balance_end <= ? OR credit_mini_plus_balance_end <= ?)",
			now, now, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) ListDuplicateCustomerAccounts(ctx context.Context, provider string, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.BillingCustomer{}).
		Where("provider = ? AND removed_at IS NULL AND user_id > ?", provider, afterID).
		Group("user_id").
		Having("COUNT(*) > 1").
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.
		Where("provider = ? AND provider_plan_ref = ? AND billing_interval = ? AND is_active = ?", provider, providerPlanRef, interval, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"provider_customer_id",
			"provider_plan_ref",
			"internal_tier",
			"billing_interval",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"collection_paused",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error
}

// ListSubscriptionsByCustomers returns the mirrored subscriptions owned by
// any of customerIDs, whatever their status.
func (r *gormRepository) ListSubscriptionsByCustomers(ctx context.Context, provider string, customerIDs []string) ([]models.BillingSubscription, error) {
	var out []models.BillingSubscription
	if len(customerIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id IN ?", provider, customerIDs).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) UpsertCustomer(ctx context.Context, c *models.BillingCustomer) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "email", "updated_at"}),
	}).Create(c).Error
}

func (r *gormRepository) ListCustomers(ctx context.Context, userID uint, provider string) ([]models.BillingCustomer, error) {
	var out []models.BillingCustomer
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND removed_at IS NULL", userID, provider).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) MarkCustomerRemoved(ctx context.Context, provider, customerID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingCustomer{}).
		Where("provider = ? AND provider_customer_id = ?", provider, customerID).
		Update("removed_at", at).Error
}

func (r *gormRepository) CreateGiftTokenIfAbsent(ctx context.Context, g *models.GiftToken) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(g)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindGiftTokenByValue(ctx context.Context, token string) (*models.GiftToken, error) {
	var g models.GiftToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *gormRepository) FindGiftTokenByCheckoutSession(ctx context.Context, sessionID string) (*models.GiftToken, error) {
	var g models.GiftToken
	if err := r.db.WithContext(ctx).Where("external_checkout_session_id = ?", sessionID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ClaimGiftToken is the single conditional pending -> redeemed update.
func (r *gormRepository) ClaimGiftToken(ctx context.Context, token string, redeemerID uint, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.GiftToken{}).
		Where("token = ? AND status = ?", token, models.GiftStatusPending).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Updates(map[string]interface{}{
			"status":              models.GiftStatusRedeemed,
			"redeemed_by_user_id": redeemerID,
			"redeemed_at":         now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// ReleaseGiftToken reverts a claim made by redeemerID.
func (r *gormRepository) ReleaseGiftToken(ctx context.Context, id, redeemerID uint) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.GiftToken{}).
		Where("id = ? AND status = ? AND redeemed_by_user_id = ?", id, models.GiftStatusRedeemed, redeemerID).
		Updates(map[string]interface{}{
			"status":              models.GiftStatusPending,
			"redeemed_by_user_id": nil,
			"redeemed_at":         nil,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) UpdateGiftMetadata(ctx context.Context, id uint, metadataJSON string) error {
	return r.db.WithContext(ctx).
		Model(&models.GiftToken{}).
		Where("id = ?", id).
		Update("metadata_json", metadataJSON).Error
}

func (r *gormRepository) ExpireGiftTokens(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.GiftToken{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.GiftStatusPending, now).
		Update("status", models.GiftStatusExpired)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) WebhookEventExists(ctx context.Context, provider, providerEventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) InsertWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateAuditLog(ctx context.Context, entry *models.EntitlementAuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
