package billing

import (
	"context"
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
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func days(n int) *time.Time {
	t := testNow.AddDate(0, 0, n)
	return &t
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeProvider) {
	t.Helper()
	db := newTestDB(t)
	fp := &fakeProvider{}
	svc := NewServiceFromDB(db, fp, DefaultConfig())
	svc.SetClock(func() time.Time { return testNow })
	return svc, db, fp
}

var userSeq int

// createAccount inserts a user and lets set adjust its entitlement columns.
func createAccount(t *testing.T, db *gorm.DB, set func(u *models.User)) *models.User {
	t.Helper()
	userSeq++
	u := &models.User{
		Name:   fmt.Sprintf("user%d", userSeq),
		Email:  fmt.Sprintf("user%d@example.com", userSeq),
		Role:   models.ROLE_USER,
		Status: models.STATUS_ACTIVE,
	}
	if set != nil {
		set(u)
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func loadRecord(t *testing.T, db *gorm.DB, id uint) entitlements.Record {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, id).Error)
	return u.EntitlementRecord()
}

func paidPlus(subID string, end *time.Time) func(u *models.User) {
	return func(u *models.User) {
		u.TierPlus = true
		u.SubscriptionEndDate = end
		u.ExternalSubscriptionID = subID
	}
}

func paidMiniPlus(subID string, end *time.Time) func(u *models.User) {
	return func(u *models.User) {
		u.TierMiniPlus = true
		u.SubscriptionEndDate = end
		u.ExternalSubscriptionID = subID
	}
}

type fakeProvider struct {
	mu sync.Mutex

	paused    []string
	resumed   []string
	deleted   []string
	customers []ProviderCustomer

	pauseErr  error
	resumeErr error
	periodEnd *time.Time
}

func (f *fakeProvider) Name() string { return "stripe" }

func (f *fakeProvider) PauseSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return &ExternalProviderError{Op: "pause", SubscriptionID: id, Err: f.pauseErr}
	}
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeProvider) ResumeSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return nil, &ExternalProviderError{Op: "resume", SubscriptionID: id, Err: f.resumeErr}
	}
	f.resumed = append(f.resumed, id)
	return &ProviderSubscription{ID: id, Status: "active", CurrentPeriodEnd: f.periodEnd}, nil
}

func (f *fakeProvider) ListCustomers(ctx context.Context, userID uint) ([]ProviderCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProviderCustomer(nil), f.customers...), nil
}

func (f *fakeProvider) DeleteCustomer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}
