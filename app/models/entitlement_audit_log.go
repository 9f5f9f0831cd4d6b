package models

import "time"

// EntitlementAuditLog attributes every billing-relevant mutation to an actor.
type EntitlementAuditLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Actor        string    `gorm:"type:varchar(191);not null;index" json:"actor"`
	Action       string    `gorm:"type:varchar(64);not null;index" json:"action"`
	BeforeStatus string    `gorm:"type:varchar(32);not null;default:''" json:"before_status"`
	AfterStatus  string    `gorm:"type:varchar(32);not null;default:''" json:"after_status"`
	Detail       string    `gorm:"type:text" json:"detail"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
