package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/ai"
	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/moderation"
	"github.com/ignatzorin/escrow-backend/internal/payout"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/scheduler"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
	"github.com/ignatzorin/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Инициализируем вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	deliverableStorage, err := storage.NewDeliverableStorage(cfg.MediaStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Внешние коллабораторы: платёжный провайдер, модерация текста и
	// сервис автопроверки споров.
	payoutClient := payout.NewClient(cfg.PayoutBaseURL)
	moderationClient := moderation.NewClient(cfg.ModerationBaseURL)
	reviewClient := ai.NewClient(cfg.DisputeReviewBaseURL, "")

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn)
	milestoneRepo := repository.NewMilestoneRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	transactionRepo := repository.NewTransactionRepository(dbConn)
	activityRepo := repository.NewActivityRepository(dbConn)
	mediaRepo := repository.NewMediaRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Вебсокеты и уведомления.
	notificationService := service.NewNotificationService(notificationRepo)
	hub := ws.NewHub(ctx)
	hub.SetNotificationSaver(ws.NewNotificationServiceAdapter(notificationService))
	go hub.Run()
	notifier := ws.NewHubNotifier(hub)

	// Сервисы.
	authService := service.NewAuthService(userRepo, tokenManager)
	fraudService := service.NewFraudService(userRepo, projectRepo, transactionRepo, disputeRepo, cfg.Fraud)
	releaseService := service.NewReleaseService(escrowRepo, userRepo, payoutClient, cfg.FeeRateBps)
	projectService := service.NewProjectService(projectRepo, escrowRepo, activityRepo, transactionRepo, moderationClient, notifier, fraudService, cfg.AutoApproveDays)
	milestoneService := service.NewMilestoneService(milestoneRepo, projectRepo, mediaRepo, releaseService, moderationClient, notifier, activityRepo, fraudService)
	disputeService := service.NewDisputeService(disputeRepo, milestoneRepo, projectRepo, userRepo, escrowRepo, reviewClient, releaseService, moderationClient, notifier, activityRepo, fraudService, cfg.DisputeReviewConfidence)

	// Автоприёмка сданных вех, по которым клиент не ответил в срок.
	scheduler.NewAutoApproveScheduler(milestoneService, cfg.AutoApproveInterval).Start(ctx)

	// HTTP хэндлеры.
	authHandler := httpHandlers.NewAuthHandler(authService)
	projectHandler := httpHandlers.NewProjectHandler(projectService, authService)
	milestoneHandler := httpHandlers.NewMilestoneHandler(milestoneService, authService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService, authService)
	mediaHandler := httpHandlers.NewMediaHandler(mediaRepo, deliverableStorage)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, authHandler, projectHandler, milestoneHandler, disputeHandler, mediaHandler, notificationHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
