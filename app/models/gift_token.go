package models

import (
	"encoding/json"
	"time"
)

const (
	GiftStatusPending  = "pending_redemption"
	GiftStatusRedeemed = "redeemed"
	GiftStatusExpired  = "expired"
)

// GiftToken is a purchasable single-use entitlement grant. Status moves from
// pending_redemption to redeemed or expired exactly once.
type GiftToken struct {
	ID                        uint       `gorm:"primaryKey" json:"id"`
	Token                     string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	Tier                      string     `gorm:"type:varchar(20);not null" json:"tier"`
	Duration                  string     `gorm:"type:varchar(10);not null" json:"duration"`
	Status                    string     `gorm:"type:varchar(32);not null;default:'pending_redemption';index" json:"status"`
	PurchasedByUserID         uint       `gorm:"not null;index" json:"purchased_by_user_id"`
	RedeemedByUserID          *uint      `gorm:"index" json:"redeemed_by_user_id,omitempty"`
	RedeemedAt                *time.Time `gorm:"type:timestamp;default:null" json:"redeemed_at,omitempty"`
	ExpiresAt                 *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	ExternalCheckoutSessionID *string    `gorm:"type:varchar(191);uniqueIndex" json:"external_checkout_session_id,omitempty"`
	MetadataJSON              string     `gorm:"type:text" json:"-"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GiftAuditEntry is one line of a token's transition trail.
type GiftAuditEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// AuditTrail decodes MetadataJSON. Malformed metadata yields an empty trail.
func (g *GiftToken) AuditTrail() []GiftAuditEntry {
	if g.MetadataJSON == "" {
		return nil
	}
	var out []GiftAuditEntry
	if err := json.Unmarshal([]byte(g.MetadataJSON), &out); err != nil {
		return nil
	}
	return out
}

// AppendAudit adds an entry and re-encodes the trail.
func (g *GiftToken) AppendAudit(entry GiftAuditEntry) error {
	trail := append(g.AuditTrail(), entry)
	b, err := json.Marshal(trail)
	if err != nil {
		return err
	}
	g.MetadataJSON = string(b)
	return nil
}

func (g *GiftToken) IsPending() bool {
	return g.Status == GiftStatusPending
}

// PastDeadline reports whether a configured deadline has passed.
func (g *GiftToken) PastDeadline(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}
