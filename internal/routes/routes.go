package routes

import (
	"github.com/bpajor/pay-man-sys/internal/controllers"
	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes registers all application routes.
func SetupRoutes(
	router *gin.Engine,
	authController *controllers.AuthController,
	dashboardController *controllers.DashboardController,
	sessions *middleware.SessionManager,
	csrfGuard *csrf.Guard,
	log *zap.Logger,
) {
	router.Use(middleware.RequestLogger(log))
	router.Use(sessions.Load())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	RegisterAuthRoutes(router, authController, sessions, csrfGuard)

	// Authenticated-only surface. A pending second factor forces re-entry
	// into the prompt before any of these resolve.
	manager := router.Group("/manager")
	manager.Use(middleware.RequireAuthenticated(), middleware.RequireAccountType(models.AccountTypeManager))
	{
		manager.GET("/dashboard", dashboardController.ManagerDashboard)
	}

	employee := router.Group("/employee")
	employee.Use(middleware.RequireAuthenticated(), middleware.RequireAccountType(models.AccountTypeEmployee))
	{
		employee.GET("/dashboard", dashboardController.EmployeeDashboard)
	}
}
