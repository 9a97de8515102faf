// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/config"
	"github.com/homeplate/homeplate-backend/internal/handlers"
	"github.com/homeplate/homeplate-backend/internal/middleware"
	"github.com/homeplate/homeplate-backend/internal/services"
	"github.com/homeplate/homeplate-backend/internal/utils"
)

// Initialize wires services and routes. The orchestrator is returned
// alongside the engine so main can run the expiry sweeper on it.
func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, *services.TransactionService, error) {
	// Initialize services
	notificationService := services.NewNotificationService(db, cfg)
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		return nil, nil, err
	}

	geofence := services.NewGeofenceValidator(cfg.Settlement.GeofenceRadiusMeters)
	feeService, err := services.NewFeeService(db)
	if err != nil {
		return nil, nil, err
	}
	tokenService := services.NewTokenService(db, geofence)
	rail := services.NewStripeRail(cfg.Payment.StripeSecretKey)
	escrowService := services.NewEscrowService(db, rail, cfg.Payment.Currency)
	transactionService := services.NewTransactionService(db, cfg, feeService, tokenService, escrowService, notificationService)

	// Initialize handlers
	transactionHandler := handlers.NewTransactionHandler(transactionService, escrowService, storageService)
	feeHandler := handlers.NewFeeHandler(feeService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(db))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Fee routes (public, read-only pricing)
		fees := v1.Group("/fees")
		{
			fees.POST("/quote", feeHandler.Quote)
			fees.GET("/catalog", feeHandler.Catalog)
		}

		// Transaction routes
		transactions := v1.Group("/transactions")
		transactions.Use(middleware.AuthRequired())
		{
			transactions.POST("", middleware.RoleRequired("host"), transactionHandler.Create)
			transactions.GET("", middleware.RoleRequired("host"), transactionHandler.List)
			transactions.GET("/:id", transactionHandler.Get)
			transactions.POST("/:id/dispute", middleware.UploadRateLimit(), transactionHandler.Dispute)
			transactions.POST("/:id/cancel", transactionHandler.Cancel)
		}

		// Scan routes; the token itself is the credential, no JWT needed
		scans := v1.Group("/scans")
		scans.Use(middleware.ScanRateLimit())
		{
			scans.POST("/entry", transactionHandler.ScanEntry)
			scans.POST("/exit", transactionHandler.ScanExit)
		}

		// Host payout routes
		hosts := v1.Group("/hosts")
		hosts.Use(middleware.AuthRequired(), middleware.RoleRequired("host"))
		{
			hosts.GET("/balance", transactionHandler.Balance)
		}
	}

	// Static file serving (for development)
	if cfg.Environment == "development" {
		r.Static("/uploads", "./uploads")
	}

	return r, transactionService, nil
}
