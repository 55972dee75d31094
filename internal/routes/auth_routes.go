package routes

import (
	"github.com/bpajor/pay-man-sys/internal/controllers"
	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes wires the authentication surface. Every state-mutating
// POST goes through the CSRF validator against the session's active secret
// scope; the anonymous entry points additionally ensure the
// unauthenticated secret exists before a token can be issued or checked.
func RegisterAuthRoutes(
	router *gin.Engine,
	authController *controllers.AuthController,
	sessions *middleware.SessionManager,
	csrfGuard *csrf.Guard,
) {
	ensureSecret := middleware.EnsureUnauthenticatedCSRFSecret(sessions)
	requireCSRF := middleware.RequireCSRF(csrfGuard)
	guard2fa := middleware.GuardSecondFactor()
	anonOnly := middleware.RedirectAuthenticated()

	router.GET("/login", anonOnly, ensureSecret, guard2fa, authController.GetLogin)
	router.POST("/login", anonOnly, guard2fa, ensureSecret, requireCSRF, authController.PostLogin)

	router.POST("/signup", anonOnly, ensureSecret, requireCSRF, authController.PostSignup)

	router.GET("/verify-2fa", ensureSecret, authController.GetVerify2FA)
	router.POST("/verify-2fa", anonOnly, ensureSecret, requireCSRF, authController.PostVerify2FA)

	router.POST("/forgot-password", anonOnly, ensureSecret, requireCSRF, authController.PostForgotPassword)

	router.GET("/reset-password", anonOnly, ensureSecret, authController.GetResetPassword)
	router.POST("/reset-password", anonOnly, ensureSecret, requireCSRF, authController.PostResetPassword)
	router.POST("/reset-password/verify-2fa", anonOnly, ensureSecret, requireCSRF, authController.PostResetVerify2FA)

	router.POST("/logout", requireCSRF, authController.PostLogout)

	// Second-factor enrollment for signed-in users.
	settings := router.Group("/settings/2fa")
	settings.Use(middleware.RequireAuthenticated(), requireCSRF)
	{
		settings.POST("/setup", authController.PostSetup2FA)
		settings.POST("/verify", authController.PostVerify2FASetup)
	}
}
