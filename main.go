package main

import (
	"context"
	"log"
	"os"
	"time"

	"wablast/config"
	controller "wablast/controllers"
	"wablast/middleware"
	"wablast/routes"
	"wablast/utils"
	"wablast/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
)

func main() {
	logger := log.New(os.Stdout, "WABLAST: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := os.MkdirAll(config.AppConfig.UploadDir, 0o755); err != nil {
		logger.Fatalf("Failed to create upload dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Campaign engine wiring
	registry := worker.NewRegistry()
	manager := utils.NewCampaignManager(config.DB, logger, config.AppConfig.UploadDir)
	quota := utils.NewQuotaService(config.DB, logger)
	warmup := utils.NewGormWarmupPauser(config.DB, logger)

	messengerFactory := func() utils.Messenger {
		return utils.NewWahaClient(
			config.AppConfig.GatewayURL,
			config.AppConfig.GatewayAPIKey,
			config.AppConfig.GatewayRatePerSec,
		)
	}

	executor := worker.NewExecutor(config.DB, registry, manager, quota, messengerFactory, logger)
	scheduler := worker.NewScheduler(
		config.DB, manager, executor, registry, warmup, logger,
		time.Duration(config.AppConfig.SchedulerIntervalSeconds)*time.Second,
		time.Duration(config.AppConfig.DeliveryRetentionDays)*24*time.Hour,
	)
	go scheduler.Start(ctx)
	go quota.ResetDailyCounters(ctx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024, // spreadsheet uploads
	})
	app.Use(middleware.CORS())

	cc := controller.NewCampaignController(
		config.DB, logger, manager, scheduler, registry, config.AppConfig.UploadDir,
	)
	routes.SetupRoutes(app, cc)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
