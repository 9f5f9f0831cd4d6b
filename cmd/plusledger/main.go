package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ManuelReschke/PlusLedger/app/repository"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/database"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/env"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/router"
)

func main() {
	app, jobs := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		jobs.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/plusledger to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + constants.OpenAPIFile); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	cfg := billing.LoadConfig()
	svc := billing.NewServiceFromDB(database.GetDB(), billing.NewProviderFromConfig(cfg), cfg).
		WithLocker(cache.NewLocker(cache.GetClient()))

	jobs := jobqueue.NewManager(svc, cache.GetClient(), env.GetEnvInt("WORKER_COUNT", 3))
	jobs.Start()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := billing.RegisterMetrics(registry); err != nil {
		log.Fatalf("Failed to register billing metrics: %v", err)
	}
	if err := jobqueue.RegisterMetrics(registry); err != nil {
		log.Fatalf("Failed to register job queue metrics: %v", err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: basePath + constants.OpenAPIFile,
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing: svc,
		Jobs:    jobs,
		RateLimitStorage: redisstorage.New(redisstorage.Config{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnvInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			Database: 2, // Separate database for rate limits
			Reset:    false,
		}),
		RedeemPerMinute:     env.GetEnvInt("REDEEM_RATE_LIMIT_PER_MINUTE", 10),
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		Metrics:             registry,
		MetricsUser:         env.GetEnv("METRICS_USER", "metrics"),
		MetricsPasswordHash: env.GetEnv("METRICS_PASSWORD_BCRYPT", ""),
	})

	return app, jobs
}
