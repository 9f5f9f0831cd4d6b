package router

import (
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PlusLedger/app/models"
	"github.com/ManuelReschke/PlusLedger/app/repository"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	db, err := gorm.Open(sqlite.Open("file:router_test?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		panic(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{},
		&models.GiftToken{},
		&models.BillingWebhookEvent{},
		&models.BillingCustomer{},
		&models.BillingPlanMapping{},
		&models.BillingSubscription{},
		&models.EntitlementAuditLog{},
	); err != nil {
		panic(err)
	}
	testDB = db
	repository.InitializeFactory(db)
	os.Exit(m.Run())
}

func keyFor(t *testing.T, name, role string) string {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: role, Status: models.STATUS_ACTIVE}
	raw, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, testDB.Create(u).Error)
	return raw
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("scrape"), bcrypt.MinCost)
	require.NoError(t, err)

	svc := billing.NewServiceFromDB(testDB, billing.DisabledProvider{}, billing.DefaultConfig())
	svc.SetClock(func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Billing:             svc,
		RedeemPerMinute:     5,
		StripeWebhookSecret: "whsec_router",
		Metrics:             reg,
		MetricsUser:         "prom",
		MetricsPasswordHash: string(hash),
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, apiKey string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestInstallRouter_Auth(t *testing.T) {
	app := newTestApp(t)
	userKey := keyFor(t, "routeuser", models.ROLE_USER)
	adminKey := keyFor(t, "routeadmin", models.ROLE_ADMIN)

	cases := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"entitlement needs a key", "GET", "/api/v1/entitlement", "", fiber.StatusUnauthorized},
		{"entitlement with key", "GET", "/api/v1/entitlement", userKey, fiber.StatusOK},
		{"admin route rejects users", "POST", "/api/v1/admin/sweeps/expiration", userKey, fiber.StatusForbidden},
		{"admin route without job manager", "POST", "/api/v1/admin/sweeps/expiration", adminKey, fiber.StatusServiceUnavailable},
		{"webhook skips api key auth", "POST", "/webhooks/stripe", "", fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, app, tc.method, tc.path, tc.key)
			assert.Equal(t, tc.want, code, body)
		})
	}
}

func TestInstallRouter_Metrics(t *testing.T) {
	app := newTestApp(t)

	code, _ := call(t, app, "GET", "/metrics", "")
	assert.Equal(t, fiber.StatusUnauthorized, code)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
