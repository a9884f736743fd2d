package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"task-marketplace-api/config"
	"task-marketplace-api/handlers"
	"task-marketplace-api/middleware"
	"task-marketplace-api/models"
	"task-marketplace-api/repository"
	"task-marketplace-api/services"
	"task-marketplace-api/utils"
	"task-marketplace-api/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	if err := db.AutoMigrate(
		&models.Installation{},
		&models.Task{},
		&models.Transaction{},
		&models.User{},
		&models.Activity{},
	); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	vault, err := utils.NewKMSVault(ctx, cfg.AWSRegion, cfg.KMSKeyID, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		log.Fatal("failed to initialize KMS vault: ", err)
	}

	githubClient, err := services.NewGitHubAppClient(cfg.GitHubAppID, cfg.GitHubPrivateKeyPEM, cfg.GitHubWebhookSecret)
	if err != nil {
		log.Fatal("failed to initialize GitHub App client: ", err)
	}

	stellarClient := services.NewStellarServiceClient(cfg.WalletServiceURL, cfg.WalletServiceToken)

	store := repository.NewStore(db)
	activityService := services.NewActivityService(db, cfg.Production)
	taskService := services.NewTaskService(store, stellarClient, githubClient, vault, activityService, cfg)
	userService := services.NewUserService(store, cfg)
	webhookService := services.NewWebhookService(db, githubClient, activityService, userService)

	app := fiber.New(fiber.Config{
		AppName: "task-marketplace-api",
	})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupTaskRoutes(app, taskService, webhookService)
	handlers.SetupUserRoutes(app, userService, activityService)

	sweeper, err := workers.StartPendingSweeper(db, cfg.PendingSweepInterval, cfg.PendingMaxAge)
	if err != nil {
		log.Fatal("failed to start pending-payment sweeper: ", err)
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s", cfg.ListenAddr)
	log.Printf("✅ Pending-payment sweeper running (every %s, max age %s)", cfg.PendingSweepInterval, cfg.PendingMaxAge)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sweeper.Shutdown(); err != nil {
		log.Printf("Sweeper shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
