package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
)

// UserRepository defines the account lookups used outside the billing engine
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	SaveAPIKey(user *models.User) error
	TouchAPIKey(id uint, at time.Time) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// AuditRepository reads the entitlement audit trail
type AuditRepository interface {
	ListByUser(userID uint, limit int) ([]models.EntitlementAuditLog, error)
	ListRecent(limit int) ([]models.EntitlementAuditLog, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Audit AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Audit: NewAuditRepository(db),
	}
}
