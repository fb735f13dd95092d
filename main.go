package main

import (
	"context"

	"leadpilot/config"
	"leadpilot/engine"
	"leadpilot/middleware"
	"leadpilot/routes"
	"leadpilot/store"
	"leadpilot/utils"
	"leadpilot/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	st := store.NewGormStore(config.DB)

	// A Redis-backed lock lets several instances share the send loop; the
	// in-process fallback is fine for a single node.
	var locker engine.Locker
	if redisClient := config.NewRedisClient(); redisClient != nil {
		locker = engine.NewRedisLocker(redisClient)
		logger.Info("using redis enrollment locks")
	} else {
		locker = engine.NewLocalLocker()
		logger.Info("using in-process enrollment locks")
	}

	mailer := utils.NewMailer(config.AppConfig.SMTP, config.AppConfig.TrackingBaseURL, config.AppConfig.TrackingSecret)
	resolver := utils.NewTemplateResolver(st)

	schedulerCfg := engine.DefaultSchedulerConfig()
	schedulerCfg.Concurrency = config.AppConfig.SchedulerConcurrency
	schedulerCfg.BatchSize = config.AppConfig.SchedulerBatchSize

	scheduler := engine.NewScheduler(st, resolver, mailer, nil, locker, schedulerCfg, logger)
	lifecycle := engine.NewLifecycle(st, nil, logger)
	ingest := engine.NewIngest(st, nil, logger)
	rollup := engine.NewRollup(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Send loop
	sequenceWorker := worker.NewSequenceWorker(scheduler, config.AppConfig.SchedulerInterval, logger)
	go sequenceWorker.Start(ctx)

	// Inbox watcher for reply detection
	if config.AppConfig.IMAP.Host != "" {
		replyWorker := worker.NewReplyWorker(st, ingest, config.AppConfig.IMAP, config.AppConfig.ReplyPollInterval, logger)
		go replyWorker.Start(ctx)
	}

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(app, st, lifecycle, ingest, rollup, &config.AppConfig, logger)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
