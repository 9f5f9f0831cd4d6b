package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

func TestApplyGiftSubscription_DecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(u *models.User)
		tier       entitlements.Tier
		duration   entitlements.Duration
		transition entitlements.Transition
		after      entitlements.Status
		expiry     time.Time
		paused     []string
		check      func(t *testing.T, rec entitlements.Record)
	}{
		{
			name:       "free account gets mini plus credit",
			tier:       entitlements.TierMiniPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionActivate,
			after:      entitlements.StatusMiniPlusCredit,
			expiry:     testNow.AddDate(0, 1, 0),
			check: func(t *testing.T, rec entitlements.Record) {
				assert.True(t, rec.TierMiniPlus)
				assert.False(t, rec.TierPlus)
				require.NotNil(t, rec.CreditMiniPlusBalanceEnd)
			},
		},
		{
			name:       "free account gets a year of plus",
			tier:       entitlements.TierPlus,
			duration:   entitlements.DurationYear,
			transition: entitlements.TransitionActivate,
			after:      entitlements.StatusPlusCredit,
			expiry:     testNow.AddDate(1, 0, 0),
		},
		{
			name:       "paid mini plus is extended in place",
			setup:      paidMiniPlus("sub_m", days(10)),
			tier:       entitlements.TierMiniPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionExtend,
			after:      entitlements.StatusMiniPlus,
			expiry:     days(10).AddDate(0, 1, 0),
			check: func(t *testing.T, rec entitlements.Record) {
				assert.True(t, rec.SubscriptionEndDate.Equal(days(10).AddDate(0, 1, 0)))
				assert.Nil(t, rec.CreditMiniPlusBalanceEnd)
			},
		},
		{
			name: "mini plus credit is extended from its end",
			setup: func(u *models.User) {
				u.TierMiniPlus = true
				u.CreditMiniPlusBalanceEnd = days(5)
			},
			tier:       entitlements.TierMiniPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionExtend,
			after:      entitlements.StatusMiniPlusCredit,
			expiry:     days(5).AddDate(0, 1, 0),
		},
		{
			name:       "paid mini plus is paused under a plus credit",
			setup:      paidMiniPlus("sub_m", days(20)),
			tier:       entitlements.TierPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionUpgrade,
			after:      entitlements.StatusPlusPaused,
			expiry:     testNow.AddDate(0, 1, 0),
			paused:     []string{"sub_m"},
			check: func(t *testing.T, rec entitlements.Record) {
				assert.Equal(t, entitlements.TierMiniPlus, rec.PreviousTier)
				assert.Equal(t, "sub_m", rec.PausedExternalSubscriptionID)
				assert.True(t, rec.TierPlus)
				assert.False(t, rec.TierMiniPlus)
			},
		},
		{
			name:       "mini plus gift is banked behind paid plus",
			setup:      paidPlus("sub_p", days(20)),
			tier:       entitlements.TierMiniPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionCreditForLater,
			after:      entitlements.StatusPlus,
			expiry:     days(20).AddDate(0, 1, 0),
			check: func(t *testing.T, rec entitlements.Record) {
				assert.Empty(t, rec.PausedExternalSubscriptionID)
				assert.True(t, rec.TierPlus)
			},
		},
		{
			name:       "paid plus is paused and the credit starts at period end",
			setup:      paidPlus("sub_p", days(20)),
			tier:       entitlements.TierPlus,
			duration:   entitlements.DurationMonth,
			transition: entitlements.TransitionExtendViaPause,
			after:      entitlements.StatusPlusPaused,
			expiry:     days(20).AddDate(0, 1, 0),
			paused:     []string{"sub_p"},
			check: func(t *testing.T, rec entitlements.Record) {
				assert.Equal(t, entitlements.TierNone, rec.PreviousTier)
				assert.Equal(t, "sub_p", rec.PausedExternalSubscriptionID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, fp := newTestService(t)
			u := createAccount(t, db, tt.setup)

			out, err := svc.Manager.ApplyGiftSubscription(context.Background(), u.ID, tt.tier, tt.duration, "test")
			require.NoError(t, err)

			assert.Equal(t, tt.transition, out.Transition)
			assert.Equal(t, tt.after, out.After)
			assert.True(t, tt.expiry.Equal(out.NewExpiry), "expiry %s, want %s", out.NewExpiry, tt.expiry)
			assert.Equal(t, tt.paused, fp.paused)

			rec := loadRecord(t, db, u.ID)
			assert.Equal(t, tt.after, entitlements.Resolve(rec, testNow))
			assert.Equal(t, int64(1), rec.Version)
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestApplyGiftSubscription_PauseFailureLeavesRecordUntouched(t *testing.T) {
	svc, db, fp := newTestService(t)
	fp.pauseErr = errors.New("stripe unavailable")
	u := createAccount(t, db, paidPlus("sub_p", days(20)))
	before := loadRecord(t, db, u.ID)

	_, err := svc.Manager.ApplyGiftSubscription(context.Background(), u.ID, entitlements.TierPlus, entitlements.DurationMonth, "test")
	require.Error(t, err)
	assert.True(t, IsExternalProviderError(err))

	after := loadRecord(t, db, u.ID)
	assert.True(t, before.Equal(after))
	assert.Equal(t, before.Version, after.Version)
}

func TestApplyGiftSubscription_RejectsUnknownTier(t *testing.T) {
	svc, db, _ := newTestService(t)
	u := createAccount(t, db, nil)

	_, err := svc.Manager.ApplyGiftSubscription(context.Background(), u.ID, "gold", entitlements.DurationMonth, "test")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyGiftSubscription_UnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Manager.ApplyGiftSubscription(context.Background(), 999, entitlements.TierPlus, entitlements.DurationMonth, "test")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestExtendSubscription(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	free := createAccount(t, db, nil)
	_, err := svc.Manager.ExtendSubscription(ctx, free.ID, entitlements.DurationMonth, entitlements.TierNone, "admin:root")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	paid := createAccount(t, db, paidPlus("sub_p", days(3)))
	_, err = svc.Manager.ExtendSubscription(ctx, paid.ID, entitlements.DurationMonth, entitlements.TierMiniPlus, "admin:root")
	assert.ErrorIs(t, err, ErrNoActiveSubscription, "tier must match the paid tier")

	end, err := svc.Manager.ExtendSubscription(ctx, paid.ID, entitlements.DurationYear, entitlements.TierPlus, "admin:root")
	require.NoError(t, err)
	assert.True(t, end.Equal(days(3).AddDate(1, 0, 0)))
}

func TestStoreGiftCredit_StartsAfterExistingCoverage(t *testing.T) {
	svc, db, _ := newTestService(t)
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.CreditPlusBalanceEnd = days(7)
	})

	end, err := svc.Manager.StoreGiftCredit(context.Background(), u.ID, entitlements.TierPlus, entitlements.DurationMonth, "admin:root")
	require.NoError(t, err)
	assert.True(t, end.Equal(days(7).AddDate(0, 1, 0)))
}

func TestHandleSubscriptionExpiration_ResumesPausedBilling(t *testing.T) {
	svc, db, fp := newTestService(t)
	fp.periodEnd = days(25)
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.SubscriptionEndDate = days(-5)
		u.PausedExternalSubscriptionID = "sub_p"
		u.CreditPlusBalanceEnd = days(-1)
	})

	out, err := svc.Manager.HandleSubscriptionExpiration(context.Background(), u.ID, "sweeper:daily_check")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.True(t, out.Resumed)
	assert.Equal(t, entitlements.StatusPlus, out.After)
	assert.Equal(t, entitlements.StatusPlus, out.Label)
	assert.Equal(t, []string{"sub_p"}, fp.resumed)

	rec := loadRecord(t, db, u.ID)
	assert.Empty(t, rec.PausedExternalSubscriptionID)
	assert.Equal(t, "sub_p", rec.ExternalSubscriptionID)
	assert.Nil(t, rec.CreditPlusBalanceEnd)
	require.NotNil(t, rec.SubscriptionEndDate)
	assert.True(t, rec.SubscriptionEndDate.Equal(*days(25)))
}

func TestHandleSubscriptionExpiration_LapsedCreditExpires(t *testing.T) {
	svc, db, fp := newTestService(t)
	u := createAccount(t, db, func(u *models.User) {
		u.TierMiniPlus = true
		u.CreditMiniPlusBalanceEnd = days(-1)
	})

	out, err := svc.Manager.HandleSubscriptionExpiration(context.Background(), u.ID, "sweeper:daily_check")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.False(t, out.Resumed)
	assert.Equal(t, entitlements.StatusExpired, out.Label)
	assert.Equal(t, entitlements.StatusFree, out.After)
	assert.Empty(t, fp.resumed)

	rec := loadRecord(t, db, u.ID)
	assert.False(t, rec.TierMiniPlus)
	assert.Nil(t, rec.CreditMiniPlusBalanceEnd)

	again, err := svc.Manager.HandleSubscriptionExpiration(context.Background(), u.ID, "sweeper:daily_check")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, rec.Version, loadRecord(t, db, u.ID).Version)
}

func TestHandleSubscriptionExpiration_LapsedPaidSubscription(t *testing.T) {
	svc, db, _ := newTestService(t)
	u := createAccount(t, db, paidPlus("sub_p", days(-1)))

	out, err := svc.Manager.HandleSubscriptionExpiration(context.Background(), u.ID, "sweeper:daily_check")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusExpired, out.Label)

	rec := loadRecord(t, db, u.ID)
	assert.False(t, rec.TierPlus)
	assert.Nil(t, rec.SubscriptionEndDate)
}

func TestHandleSubscriptionExpiration_CreditFallsBackToPaidTier(t *testing.T) {
	svc, db, fp := newTestService(t)
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.PreviousTier = string(entitlements.TierMiniPlus)
		u.SubscriptionEndDate = days(10)
		u.ExternalSubscriptionID = "sub_m"
		u.CreditPlusBalanceEnd = days(-1)
	})

	out, err := svc.Manager.HandleSubscriptionExpiration(context.Background(), u.ID, "sweeper:daily_check")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusMiniPlus, out.Label)
	assert.Empty(t, fp.resumed)

	rec := loadRecord(t, db, u.ID)
	assert.True(t, rec.TierMiniPlus)
	assert.False(t, rec.TierPlus)
	assert.Equal(t, entitlements.TierNone, rec.PreviousTier)
}

func TestResumeBilling(t *testing.T) {
	svc, db, fp := newTestService(t)
	ctx := context.Background()
	soon := testNow.Add(30 * time.Minute)

	due := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.PreviousTier = string(entitlements.TierMiniPlus)
		u.SubscriptionEndDate = days(-3)
		u.PausedExternalSubscriptionID = "sub_due"
		u.CreditPlusBalanceEnd = &soon
	})
	later := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.PausedExternalSubscriptionID = "sub_later"
		u.CreditPlusBalanceEnd = days(10)
	})

	horizon := testNow.Add(time.Hour)
	resumed, err := svc.Manager.ResumeBilling(ctx, due.ID, horizon, "sweeper:check_expiring")
	require.NoError(t, err)
	assert.True(t, resumed)

	resumed, err = svc.Manager.ResumeBilling(ctx, later.ID, horizon, "sweeper:check_expiring")
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, []string{"sub_due"}, fp.resumed)

	rec := loadRecord(t, db, due.ID)
	assert.Empty(t, rec.PausedExternalSubscriptionID)
	assert.Equal(t, "sub_due", rec.ExternalSubscriptionID)
	assert.Equal(t, entitlements.StatusPlusCredit, entitlements.Resolve(rec, testNow))
	assert.Equal(t, entitlements.TierMiniPlus, rec.PreviousTier)
	// Without a provider period end, paid access continues from the credit end.
	require.NotNil(t, rec.SubscriptionEndDate)
	assert.True(t, rec.SubscriptionEndDate.Equal(soon))
}

func TestResumeBilling_ProviderFailureKeepsPause(t *testing.T) {
	svc, db, fp := newTestService(t)
	fp.resumeErr = errors.New("boom")
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.PausedExternalSubscriptionID = "sub_p"
		u.CreditPlusBalanceEnd = days(-1)
	})

	_, err := svc.Manager.ResumeBilling(context.Background(), u.ID, testNow, "sweeper:check_expiring")
	var pe *ExternalProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "resume", pe.Op)
	assert.Equal(t, "sub_p", loadRecord(t, db, u.ID).PausedExternalSubscriptionID)
}

func TestUpdateSubscriptionStatus_IsIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.CreditMiniPlusBalanceEnd = days(5)
	})

	status, err := svc.Manager.UpdateSubscriptionStatus(ctx, u.ID, "admin:root")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusMiniPlusCredit, status)

	first := loadRecord(t, db, u.ID)
	assert.True(t, first.TierMiniPlus)
	assert.False(t, first.TierPlus)
	assert.Equal(t, int64(1), first.Version)

	status, err = svc.Manager.UpdateSubscriptionStatus(ctx, u.ID, "admin:root")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusMiniPlusCredit, status)
	assert.Equal(t, int64(1), loadRecord(t, db, u.ID).Version, "second call must not write")
}

// racingRepo simulates a concurrent writer committing between our read and
// our conditional write.
type racingRepo struct {
	Repository
	db        *gorm.DB
	races     int
	interfere map[string]interface{}
}

func (r *racingRepo) GetAccount(ctx context.Context, userID uint) (entitlements.Record, error) {
	rec, err := r.Repository.GetAccount(ctx, userID)
	if err != nil || r.races == 0 {
		return rec, err
	}
	r.races--
	cols := map[string]interface{}{"entitlement_version": gorm.Expr("entitlement_version + 1")}
	for k, v := range r.interfere {
		cols[k] = v
	}
	if err := r.db.Model(&models.User{}).Where("id = ?", userID).Updates(cols).Error; err != nil {
		return rec, err
	}
	return rec, nil
}

func newRacingManager(t *testing.T, races int, interfere map[string]interface{}) (*EntitlementManager, *gorm.DB, *fakeProvider) {
	t.Helper()
	db := newTestDB(t)
	fp := &fakeProvider{}
	repo := &racingRepo{Repository: NewRepository(db), db: db, races: races, interfere: interfere}
	m := NewEntitlementManager(repo, fp, DefaultConfig())
	m.SetClock(func() time.Time { return testNow })
	return m, db, fp
}

func TestMutate_GivesUpWithStaleWrite(t *testing.T) {
	m, db, _ := newRacingManager(t, 10, nil)
	u := createAccount(t, db, nil)

	_, err := m.StoreGiftCredit(context.Background(), u.ID, entitlements.TierPlus, entitlements.DurationMonth, "test")
	assert.ErrorIs(t, err, ErrStaleWrite)

	rec := loadRecord(t, db, u.ID)
	assert.Nil(t, rec.CreditPlusBalanceEnd)
	assert.Equal(t, int64(3), rec.Version, "one concurrent write per attempt")
}

func TestMutate_RetriesAfterLostRace(t *testing.T) {
	m, db, _ := newRacingManager(t, 1, nil)
	u := createAccount(t, db, nil)

	_, err := m.StoreGiftCredit(context.Background(), u.ID, entitlements.TierPlus, entitlements.DurationMonth, "test")
	require.NoError(t, err)

	rec := loadRecord(t, db, u.ID)
	require.NotNil(t, rec.CreditPlusBalanceEnd)
	assert.Equal(t, int64(2), rec.Version)
}

func TestMutate_CompensatesPauseNoLongerNeeded(t *testing.T) {
	// The concurrent writer removes the paid subscription, so the replanned
	// gift no longer pauses anything.
	m, db, fp := newRacingManager(t, 1, map[string]interface{}{
		"tier_plus":                false,
		"subscription_end_date":    nil,
		"external_subscription_id": "",
	})
	u := createAccount(t, db, paidPlus("sub_p", days(20)))

	out, err := m.ApplyGiftSubscription(context.Background(), u.ID, entitlements.TierPlus, entitlements.DurationMonth, "test")
	require.NoError(t, err)
	assert.Equal(t, entitlements.TransitionActivate, out.Transition)
	assert.Equal(t, []string{"sub_p"}, fp.paused)
	assert.Equal(t, []string{"sub_p"}, fp.resumed, "pause must be undone")
	assert.Empty(t, loadRecord(t, db, u.ID).PausedExternalSubscriptionID)
}

func TestAdminOperations(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	u := createAccount(t, db, nil)

	end, err := svc.Manager.AdminAddSubscription(ctx, u.ID, entitlements.TierPlus, entitlements.DurationMonth, "admin:root")
	require.NoError(t, err)
	assert.True(t, end.Equal(testNow.AddDate(0, 1, 0)))

	_, err = svc.Manager.AdminAddSubscription(ctx, u.ID, entitlements.TierPlus, entitlements.DurationMonth, "admin:root")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err := svc.Manager.AdminChangeTier(ctx, u.ID, entitlements.TierMiniPlus, "admin:root")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusMiniPlus, status)

	_, err = svc.Manager.AdminChangeTier(ctx, u.ID, entitlements.TierMiniPlus, "admin:root")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err = svc.Manager.AdminRemoveSubscription(ctx, u.ID, "admin:root")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusFree, status)

	_, err = svc.Manager.AdminRemoveSubscription(ctx, u.ID, "admin:root")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	var logs []models.EntitlementAuditLog
	require.NoError(t, db.Where("user_id = ?", u.ID).Order("id ASC").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.Equal(t, "admin_add_subscription", logs[0].Action)
	assert.Equal(t, "admin:root", logs[0].Actor)
	assert.Equal(t, "FREE", logs[0].BeforeStatus)
	assert.Equal(t, "PLUS", logs[0].AfterStatus)
	assert.Equal(t, "admin_remove_subscription", logs[2].Action)
}

func TestSyncProviderSubscription(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	u := createAccount(t, db, nil)

	in := NormalizedSubscription{
		UserID:                 u.ID,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
		Status:                 "active",
		CurrentPeriodEnd:       days(30),
	}
	status, err := svc.Manager.SyncProviderSubscription(ctx, in, entitlements.TierPlus, "webhook:stripe")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusPlus, status)

	rec := loadRecord(t, db, u.ID)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", rec.ExternalCustomerID)

	// Replaying the same state is a no-op.
	_, err = svc.Manager.SyncProviderSubscription(ctx, in, entitlements.TierPlus, "webhook:stripe")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, loadRecord(t, db, u.ID).Version)

	in.Status = "canceled"
	in.Deleted = true
	status, err = svc.Manager.SyncProviderSubscription(ctx, in, entitlements.TierNone, "webhook:stripe")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusFree, status)
	assert.Empty(t, loadRecord(t, db, u.ID).ExternalSubscriptionID)
}

func TestApplyGiftSubscription_ExtendInPlaceIsLocalOnly(t *testing.T) {
	svc, db, fp := newTestService(t)
	ctx := context.Background()
	u := createAccount(t, db, paidMiniPlus("sub_m", days(10)))

	out, err := svc.Manager.ApplyGiftSubscription(ctx, u.ID, entitlements.TierMiniPlus, entitlements.DurationMonth, "gift:1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.TransitionExtend, out.Transition)
	assert.Empty(t, fp.paused, "the provider subscription keeps billing")

	gifted := days(10).AddDate(0, 1, 0)
	in := NormalizedSubscription{
		UserID:                 u.ID,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_m",
		Status:                 "active",
		CurrentPeriodEnd:       days(10),
	}
	_, err = svc.Manager.SyncProviderSubscription(ctx, in, entitlements.TierMiniPlus, "webhook:stripe")
	require.NoError(t, err)
	rec := loadRecord(t, db, u.ID)
	require.NotNil(t, rec.SubscriptionEndDate)
	assert.True(t, rec.SubscriptionEndDate.Equal(gifted), "a period sync keeps the later gifted date")

	in.Status = "canceled"
	in.Deleted = true
	status, err := svc.Manager.SyncProviderSubscription(ctx, in, entitlements.TierNone, "webhook:stripe")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusFree, status, "cancelling drops the in-place extension")
	assert.Nil(t, loadRecord(t, db, u.ID).SubscriptionEndDate)
}

func TestSyncProviderSubscription_KeepsPausedSubscriptionPaused(t *testing.T) {
	svc, db, _ := newTestService(t)
	u := createAccount(t, db, func(u *models.User) {
		u.TierPlus = true
		u.PreviousTier = string(entitlements.TierMiniPlus)
		u.SubscriptionEndDate = days(10)
		u.PausedExternalSubscriptionID = "sub_m"
		u.CreditPlusBalanceEnd = days(20)
	})

	status, err := svc.Manager.SyncProviderSubscription(context.Background(), NormalizedSubscription{
		UserID:                 u.ID,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_m",
		Status:                 "active",
		CollectionPaused:       true,
		CurrentPeriodEnd:       days(12),
	}, entitlements.TierMiniPlus, "webhook:stripe")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusPlusPaused, status)

	rec := loadRecord(t, db, u.ID)
	assert.Equal(t, "sub_m", rec.PausedExternalSubscriptionID)
	assert.Equal(t, entitlements.TierMiniPlus, rec.PreviousTier)
	assert.True(t, rec.SubscriptionEndDate.Equal(*days(12)))
}

func TestSyncProviderSubscription_UnmappedPlan(t *testing.T) {
	svc, db, _ := newTestService(t)
	u := createAccount(t, db, nil)

	_, err := svc.Manager.SyncProviderSubscription(context.Background(), NormalizedSubscription{
		UserID:                 u.ID,
		ProviderSubscriptionID: "sub_x",
		ProviderPlanRef:        "price_unknown",
		Status:                 "active",
		CurrentPeriodEnd:       days(30),
	}, entitlements.TierNone, "webhook:stripe")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
