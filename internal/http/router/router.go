package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	projectHandler *handlers.ProjectHandler,
	milestoneHandler *handlers.MilestoneHandler,
	disputeHandler *handlers.DisputeHandler,
	mediaHandler *handlers.MediaHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.StaticFS("/files", http.Dir(cfg.MediaStoragePath))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
	authGroup.Use(authRateLimit)
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}

	protectedAuth := api.Group("/auth")
	protectedAuth.Use(middleware.AuthMiddleware(tokenManager))
	{
		protectedAuth.GET("/me", authHandler.Me)
		protectedAuth.PUT("/payout-account", authHandler.SetPayoutAccount)
	}

	api.GET("/ws", wsHandler.Handle)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/projects", projectHandler.Create)
		protected.GET("/projects", projectHandler.List)
		protected.GET("/projects/:id", middleware.UUIDValidator("id"), projectHandler.Get)
		protected.POST("/projects/:id/accept", middleware.UUIDValidator("id"), projectHandler.Accept)
		protected.POST("/projects/:id/escrow/deposit", middleware.UUIDValidator("id"), projectHandler.FundEscrow)
		protected.GET("/projects/:id/activity", middleware.UUIDValidator("id"), projectHandler.Activity)
		protected.GET("/projects/:id/transactions", middleware.UUIDValidator("id"), projectHandler.Transactions)

		protected.POST("/projects/:id/milestones", middleware.UUIDValidator("id"), milestoneHandler.Create)
		protected.GET("/projects/:id/milestones", middleware.UUIDValidator("id"), milestoneHandler.ListByProject)
		protected.GET("/milestones/:id", middleware.UUIDValidator("id"), milestoneHandler.Get)
		protected.POST("/milestones/:id/start", middleware.UUIDValidator("id"), milestoneHandler.Start)
		protected.POST("/milestones/:id/submit", middleware.UUIDValidator("id"), milestoneHandler.Submit)
		protected.POST("/milestones/:id/approve", middleware.UUIDValidator("id"), milestoneHandler.Approve)
		protected.POST("/milestones/:id/revision", middleware.UUIDValidator("id"), milestoneHandler.RequestRevision)

		protected.POST("/milestones/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Open)
		protected.GET("/projects/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.ListByProject)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.Get)
		protected.POST("/disputes/:id/evidence", middleware.UUIDValidator("id"), disputeHandler.AddEvidence)
		protected.POST("/disputes/:id/mediator", middleware.UUIDValidator("id"), disputeHandler.AssignMediator)
		protected.POST("/disputes/:id/escalate", middleware.UUIDValidator("id"), disputeHandler.Escalate)
		protected.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)

		protected.POST("/media", mediaHandler.Upload)
		protected.DELETE("/media/:id", middleware.UUIDValidator("id"), mediaHandler.Delete)

		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.GET("/notifications/:id", notificationHandler.GetNotification)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.DELETE("/notifications/:id", notificationHandler.DeleteNotification)
	}

	return r
}
