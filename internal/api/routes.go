package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"campushire/internal/api/middleware"
	"campushire/internal/auth"
	"campushire/internal/config"
	"campushire/internal/placement"
	"campushire/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	svc *placement.Service,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	cfg *config.Config,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger, cfg.Auth.LoginRatePerHr)
	placementHandler := NewPlacementHandler(svc, storageClient, logger, cfg.Upload.MaxBytes, cfg.Upload.ClamdAddr)
	adminHandler := NewAdminHandler(db, svc, logger)
	candidateHandler := NewCandidateHandler(svc, logger)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.RegisterOfficer)
			authGroup.POST("/login/admin", authHandler.LoginAdmin)
			authGroup.POST("/login/placement", authHandler.LoginOfficer)
			authGroup.POST("/login/candidate", authHandler.LoginCandidate)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/change-password", authMiddleware, middleware.RequireRole(auth.RoleAdmin), authHandler.ChangePassword)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		placementGroup := v1.Group("/placement")
		placementGroup.Use(authMiddleware, middleware.RequireRole(auth.RolePlacement))
		{
			placementGroup.POST("/files", placementHandler.Upload)
			placementGroup.GET("/files", placementHandler.ListFiles)
			placementGroup.GET("/files/:id/rows", placementHandler.ViewRows)
			placementGroup.POST("/files/:id/structured-data", placementHandler.StoreStructuredData)
			placementGroup.PATCH("/files/:id/name", placementHandler.SetCustomName)
			placementGroup.POST("/files/:id/process", placementHandler.Process)
			placementGroup.PATCH("/files/:id/credits", placementHandler.UpdateFileCredits)
			placementGroup.PATCH("/files/credits", placementHandler.BulkUpdateCredits)
			placementGroup.GET("/files/:id/download", placementHandler.DownloadOriginal)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authMiddleware, middleware.RequireRole(auth.RoleAdmin))
		{
			adminGroup.GET("/officers", adminHandler.ListOfficers)
			adminGroup.POST("/officers/:id/approve", adminHandler.ApproveOfficer)
			adminGroup.POST("/officers/:id/reject", adminHandler.RejectOfficer)
			adminGroup.GET("/officers/:id/files", adminHandler.ListOfficerFiles)
			adminGroup.GET("/officers/:id/files/:fileId/rows", adminHandler.ViewFileRows)
			adminGroup.POST("/officers/:id/files/:fileId/approve", adminHandler.ApproveFile)
			adminGroup.POST("/officers/:id/files/:fileId/reject", adminHandler.RejectFile)
			adminGroup.POST("/officers/:id/files/:fileId/process", adminHandler.ProcessFile)
			adminGroup.PATCH("/officers/:id/files/:fileId/credits", adminHandler.UpdateFileCredits)
			adminGroup.PATCH("/officers/:id/credits", adminHandler.BulkUpdateCredits)
		}

		candidateGroup := v1.Group("/candidate")
		candidateGroup.Use(authMiddleware, middleware.RequireRole(auth.RoleCandidate))
		{
			candidateGroup.GET("/me", candidateHandler.Me)
		}
	}
}
