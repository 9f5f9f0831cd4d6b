package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
)

const maxAuditPage = 200

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// ListByUser returns the newest audit entries of one account first.
func (r *auditRepository) ListByUser(userID uint, limit int) ([]models.EntitlementAuditLog, error) {
	var entries []models.EntitlementAuditLog
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&entries).Error
	return entries, err
}

// ListRecent returns the newest audit entries across all accounts.
func (r *auditRepository) ListRecent(limit int) ([]models.EntitlementAuditLog, error) {
	var entries []models.EntitlementAuditLog
	err := r.db.Order("id DESC").Limit(clampLimit(limit)).Find(&entries).Error
	return entries, err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxAuditPage {
		return maxAuditPage
	}
	return limit
}
