// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/http/v1/handlers"
	"spendchain/internal/infrastructure/http/v1/middleware"
	"spendchain/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Version reported by the liveness probe
	Version string

	// ReadinessChecks are pinged by GET /ready
	ReadinessChecks map[string]handlers.Pinger

	AuthService *auth.Service
	Workflow    *workflow.Machine
	Ledger      *ledger.Service
	Transfers   *transfer.Engine
	Audit       *audit.Log

	// ReleaseMode switches gin to release mode.
	ReleaseMode bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.ReadinessChecks)
	router.GET("/health", healthHandler.Live)
	router.GET("/ready", healthHandler.Ready)

	base := handlers.NewBaseHandler()
	authn := middleware.Auth(cfg.AuthService)

	workflowHandler := handlers.NewWorkflowHandler(base, cfg.Workflow)
	router.POST("/validate-workflow", authn, workflowHandler.Validate)

	v1 := router.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(base, cfg.AuthService)
		protectedAuth := v1.Group("/auth")
		protectedAuth.Use(authn)
		authHandler.RegisterRoutes(v1.Group("/auth"), protectedAuth)

		protected := v1.Group("")
		protected.Use(authn)

		protected.POST("/validate-workflow", workflowHandler.Validate)
		workflowHandler.RegisterRoutes(protected.Group("/records"))
		handlers.NewBudgetHandler(base, cfg.Ledger).RegisterRoutes(protected.Group("/budget-lines"))
		handlers.NewTransferHandler(base, cfg.Transfers).RegisterRoutes(protected.Group("/transfers"))

		auditHandler := handlers.NewAuditHandler(base, cfg.Audit)
		protected.GET("/audit/:entity_type/:entity_id", auditHandler.History)
	}

	return router
}
