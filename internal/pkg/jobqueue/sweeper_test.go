package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
)

func lapsedPlus(subID string) func(u *models.User) {
	return func(u *models.User) {
		u.TierPlus = true
		u.SubscriptionEndDate = at(-time.Hour)
		u.ExternalSubscriptionID = subID
	}
}

func pausedPlusCredit(subID string, creditEnd *time.Time) func(u *models.User) {
	return func(u *models.User) {
		u.TierPlus = true
		u.PreviousTier = "plus"
		u.PausedExternalSubscriptionID = subID
		u.CreditPlusBalanceEnd = creditEnd
	}
}

type recorder struct {
	mu   sync.Mutex
	ids  []uint
	fail map[uint]bool
}

func (r *recorder) dispatch(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return errors.New("queue unavailable")
	}
	r.ids = append(r.ids, id)
	return nil
}

func TestExpirationSweeper_ScanDispatchesLapsedAccounts(t *testing.T) {
	svc, db, _ := newTestService(t)
	lapsed := createAccount(t, db, lapsedPlus("sub_a"))
	credit := createAccount(t, db, func(u *models.User) {
		u.TierMiniPlus = true
		u.CreditMiniPlusBalanceEnd = at(-time.Minute)
	})
	createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.SubscriptionEndDate = at(240 * time.Hour)
	})
	createAccount(t, db, nil)

	rec := &recorder{}
	res, err := NewExpirationSweeper(svc).Scan(context.Background(), rec.dispatch)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Candidates: 2, Dispatched: 2}, res)
	assert.ElementsMatch(t, []uint{lapsed, credit}, rec.ids)
}

func TestExpirationSweeper_ScanToleratesDispatchFailure(t *testing.T) {
	svc, db, _ := newTestService(t)
	a := createAccount(t, db, lapsedPlus("sub_a"))
	b := createAccount(t, db, lapsedPlus("sub_b"))

	rec := &recorder{fail: map[uint]bool{a: true}}
	res, err := NewExpirationSweeper(svc).Scan(context.Background(), rec.dispatch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []uint{b}, rec.ids)
}

func TestExpirationSweeper_RunCountsPerItemFailures(t *testing.T) {
	svc, db, sp := newTestService(t)
	sp.failOn = "sub_fail"

	expired := createAccount(t, db, lapsedPlus("sub_a"))
	failing := createAccount(t, db, pausedPlusCredit("sub_fail", at(-time.Hour)))
	okPaused := createAccount(t, db, pausedPlusCredit("sub_ok", at(-time.Hour)))

	report, err := NewExpirationSweeper(svc).Run(context.Background(), "admin:test")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 3, Changed: 2, Failed: 1}, report)

	u := loadUser(t, db, expired)
	assert.False(t, u.TierPlus)
	assert.Nil(t, u.SubscriptionEndDate)

	u = loadUser(t, db, failing)
	assert.Equal(t, "sub_fail", u.PausedExternalSubscriptionID, "failed resume leaves the account paused")

	u = loadUser(t, db, okPaused)
	assert.Empty(t, u.PausedExternalSubscriptionID)
	assert.Equal(t, "sub_ok", u.ExternalSubscriptionID)
	assert.Equal(t, []string{"sub_ok"}, sp.resumed)

	var audits int64
	require.NoError(t, db.Model(&models.EntitlementAuditLog{}).Where("actor = ?", "admin:test").Count(&audits).Error)
	assert.Equal(t, int64(2), audits)

	// A second run only retries what is still outstanding.
	sp.failOn = ""
	report, err = NewExpirationSweeper(svc).Run(context.Background(), "admin:test")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Changed)
	assert.Zero(t, report.Failed)
}

func TestExpirationSweeper_FailingAccountsDoNotStarveLaterOnes(t *testing.T) {
	svc, db, sp := newTestServiceWith(t, func(cfg *billing.Config) { cfg.SweepBatchSize = 2 })
	sp.failing = map[string]bool{"sub_bad1": true, "sub_bad2": true}

	createAccount(t, db, pausedPlusCredit("sub_bad1", at(-time.Hour)))
	createAccount(t, db, pausedPlusCredit("sub_bad2", at(-time.Hour)))
	behind := createAccount(t, db, lapsedPlus("sub_c"))

	report, err := NewExpirationSweeper(svc).Run(context.Background(), "admin:test")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 3, Changed: 1, Failed: 2}, report)

	u := loadUser(t, db, behind)
	assert.False(t, u.TierPlus)
	assert.Nil(t, u.SubscriptionEndDate)

	rec := &recorder{}
	res, err := NewExpirationSweeper(svc).Scan(context.Background(), rec.dispatch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates, "only the failing accounts remain")
}

func TestResumeSweeper_PagesPastBatchSize(t *testing.T) {
	svc, db, sp := newTestServiceWith(t, func(cfg *billing.Config) { cfg.SweepBatchSize = 1 })
	sp.failing = map[string]bool{"sub_bad": true}

	createAccount(t, db, pausedPlusCredit("sub_bad", at(10*time.Minute)))
	createAccount(t, db, pausedPlusCredit("sub_ok", at(10*time.Minute)))

	report, err := NewResumeSweeper(svc).Run(context.Background(), "admin:test")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 2, Changed: 1, Failed: 1}, report)
	assert.Equal(t, []string{"sub_ok"}, sp.resumed)
}

func TestResumeSweeper_OnlyResumesWithinLead(t *testing.T) {
	svc, db, sp := newTestService(t)
	soon := createAccount(t, db, pausedPlusCredit("sub_soon", at(30*time.Minute)))
	createAccount(t, db, pausedPlusCredit("sub_later", at(120*time.Hour)))

	rec := &recorder{}
	res, err := NewResumeSweeper(svc).Scan(context.Background(), rec.dispatch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, []uint{soon}, rec.ids)

	report, err := NewResumeSweeper(svc).Run(context.Background(), "cli:test")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 1, Changed: 1}, report)
	assert.Equal(t, []string{"sub_soon"}, sp.resumed)

	u := loadUser(t, db, soon)
	assert.Empty(t, u.PausedExternalSubscriptionID)
	assert.Equal(t, "sub_soon", u.ExternalSubscriptionID)
	assert.True(t, u.TierPlus)
}

func TestCustomerSweeper_FindsDuplicates(t *testing.T) {
	svc, db, _ := newTestService(t)
	dup := createAccount(t, db, nil)
	single := createAccount(t, db, nil)
	for _, c := range []models.BillingCustomer{
		{UserID: dup, Provider: "stripe", ProviderCustomerID: "cus_1"},
		{UserID: dup, Provider: "stripe", ProviderCustomerID: "cus_2"},
		{UserID: single, Provider: "stripe", ProviderCustomerID: "cus_3"},
	} {
		require.NoError(t, db.Create(&c).Error)
	}

	rec := &recorder{}
	res, err := NewCustomerSweeper(svc).Scan(context.Background(), rec.dispatch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, []uint{dup}, rec.ids)
}
