package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the account record. Only the entitlement columns are billing
// relevant; they are written exclusively through the billing package with
// an optimistic version check on EntitlementVersion.
type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email            string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role             string     `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status           string     `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	APIKeyHash       string     `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix     string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt  *time.Time `gorm:"type:timestamp;default:null" json:"api_key_created_at,omitempty"`
	APIKeyLastUsedAt *time.Time `gorm:"type:timestamp;default:null" json:"api_key_last_used_at,omitempty"`

	TierPlus                     bool       `gorm:"default:false;index" json:"tier_plus"`
	TierMiniPlus                 bool       `gorm:"default:false;index" json:"tier_mini_plus"`
	SubscriptionEndDate          *time.Time `gorm:"type:timestamp;default:null;index" json:"subscription_end_date,omitempty"`
	PreviousTier                 string     `gorm:"type:varchar(20);default:''" json:"previous_tier,omitempty"`
	PausedExternalSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"paused_external_subscription_id,omitempty"`
	CreditPlusBalanceEnd         *time.Time `gorm:"type:timestamp;default:null;index" json:"credit_plus_balance_end,omitempty"`
	CreditMiniPlusBalanceEnd     *time.Time `gorm:"type:timestamp;default:null;index" json:"credit_mini_plus_balance_end,omitempty"`
	ExternalCustomerID           *string    `gorm:"type:varchar(191);uniqueIndex" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID       string     `gorm:"type:varchar(191);default:'';index" json:"external_subscription_id,omitempty"`
	EntitlementVersion           int64      `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateUser builds an active user with no entitlements.
func CreateUser(username string, email string) (*User, error) {
	u := &User{
		Name:   strings.TrimSpace(username),
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Role:   ROLE_USER,
		Status: STATUS_ACTIVE,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

// EntitlementRecord extracts the billing-relevant fields.
func (u *User) EntitlementRecord() entitlements.Record {
	rec := entitlements.Record{
		UserID:                       u.ID,
		Version:                      u.EntitlementVersion,
		TierPlus:                     u.TierPlus,
		TierMiniPlus:                 u.TierMiniPlus,
		SubscriptionEndDate:          utcPtr(u.SubscriptionEndDate),
		PreviousTier:                 entitlements.Tier(u.PreviousTier),
		PausedExternalSubscriptionID: u.PausedExternalSubscriptionID,
		CreditPlusBalanceEnd:         utcPtr(u.CreditPlusBalanceEnd),
		CreditMiniPlusBalanceEnd:     utcPtr(u.CreditMiniPlusBalanceEnd),
		ExternalSubscriptionID:       u.ExternalSubscriptionID,
	}
	if u.ExternalCustomerID != nil {
		rec.ExternalCustomerID = *u.ExternalCustomerID
	}
	return rec
}

// ApplyEntitlementRecord copies rec back onto the model, including the version.
func (u *User) ApplyEntitlementRecord(rec entitlements.Record) {
	u.TierPlus = rec.TierPlus
	u.TierMiniPlus = rec.TierMiniPlus
	u.SubscriptionEndDate = rec.SubscriptionEndDate
	u.PreviousTier = string(rec.PreviousTier)
	u.PausedExternalSubscriptionID = rec.PausedExternalSubscriptionID
	u.CreditPlusBalanceEnd = rec.CreditPlusBalanceEnd
	u.CreditMiniPlusBalanceEnd = rec.CreditMiniPlusBalanceEnd
	u.ExternalSubscriptionID = rec.ExternalSubscriptionID
	u.EntitlementVersion = rec.Version
	if rec.ExternalCustomerID == "" {
		u.ExternalCustomerID = nil
	} else {
		id := rec.ExternalCustomerID
		u.ExternalCustomerID = &id
	}
}

// EntitlementColumns is the column map used for versioned writes. Nil
// timestamps are written as NULL.
func EntitlementColumns(rec entitlements.Record) map[string]interface{} {
	var customer interface{}
	if rec.ExternalCustomerID != "" {
		customer = rec.ExternalCustomerID
	}
	return map[string]interface{}{
		"tier_plus":                       rec.TierPlus,
		"tier_mini_plus":                  rec.TierMiniPlus,
		"subscription_end_date":           rec.SubscriptionEndDate,
		"previous_tier":                   string(rec.PreviousTier),
		"paused_external_subscription_id": rec.PausedExternalSubscriptionID,
		"credit_plus_balance_end":         rec.CreditPlusBalanceEnd,
		"credit_mini_plus_balance_end":    rec.CreditMiniPlusBalanceEnd,
		"external_customer_id":            customer,
		"external_subscription_id":        rec.ExternalSubscriptionID,
	}
}

// FindUserByAPIKeyHash resolves an API key hash to its owner.
func FindUserByAPIKeyHash(db *gorm.DB, hash string) (*User, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var u User
	if err := db.Where("api_key_hash = ?", hash).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByExternalCustomerID resolves the canonical customer link.
func FindUserByExternalCustomerID(db *gorm.DB, customerID string) (*User, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	var u User
	if err := db.Where("external_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
