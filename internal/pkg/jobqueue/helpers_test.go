package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func newTestService(t *testing.T) (*billing.Service, *gorm.DB, *stubProvider) {
	t.Helper()
	return newTestServiceWith(t, nil)
}

func newTestServiceWith(t *testing.T, tune func(cfg *billing.Config)) (*billing.Service, *gorm.DB, *stubProvider) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:jq_%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.GiftToken{},
		&models.BillingWebhookEvent{},
		&models.BillingCustomer{},
		&models.BillingPlanMapping{},
		&models.BillingSubscription{},
		&models.EntitlementAuditLog{},
	))

	sp := &stubProvider{}
	cfg := billing.DefaultConfig()
	cfg.SweepConcurrency = 2
	if tune != nil {
		tune(&cfg)
	}
	svc := billing.NewServiceFromDB(db, sp, cfg)
	svc.SetClock(func() time.Time { return testNow })
	return svc, db, sp
}

var userSeq int

func createAccount(t *testing.T, db *gorm.DB, set func(u *models.User)) uint {
	t.Helper()
	userSeq++
	u := &models.User{
		Name:   fmt.Sprintf("sweep%d", userSeq),
		Email:  fmt.Sprintf("sweep%d@example.com", userSeq),
		Role:   models.ROLE_USER,
		Status: models.STATUS_ACTIVE,
	}
	if set != nil {
		set(u)
	}
	require.NoError(t, db.Create(u).Error)
	return u.ID
}

func loadUser(t *testing.T, db *gorm.DB, id uint) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, id).Error)
	return u
}

type stubProvider struct {
	mu      sync.Mutex
	resumed []string
	failOn  string
	failing map[string]bool
}

func (s *stubProvider) Name() string { return "stripe" }

func (s *stubProvider) PauseSubscription(ctx context.Context, id string) error { return nil }

func (s *stubProvider) ResumeSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.failOn || s.failing[id] {
		return nil, &billing.ExternalProviderError{Op: "resume", SubscriptionID: id, Err: errors.New("provider unavailable")}
	}
	s.resumed = append(s.resumed, id)
	return &billing.ProviderSubscription{ID: id, Status: "active"}, nil
}

func (s *stubProvider) ListCustomers(ctx context.Context, userID uint) ([]billing.ProviderCustomer, error) {
	return nil, nil
}

func (s *stubProvider) DeleteCustomer(ctx context.Context, id string) error { return nil }
