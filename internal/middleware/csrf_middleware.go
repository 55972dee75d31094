package middleware

import (
	"net/http"

	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EnsureUnauthenticatedCSRFSecret lazily provisions the pre-authentication
// CSRF secret for sessions that do not have one yet. Authenticated sessions
// already carry their own scope's secret.
func EnsureUnauthenticatedCSRFSecret(sessions *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if !sess.IsAuthenticated() && sess.UnauthCSRFSecret == "" {
			secret, err := csrf.GenerateSecret()
			if err != nil {
				Logger(c).Error("failed to generate csrf secret", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			sess.UnauthCSRFSecret = secret
			if err := sessions.Save(c, sess); err != nil {
				Logger(c).Error("failed to save session", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
		}
		c.Next()
	}
}

// RequireCSRF enforces the full three-part check against whichever secret
// scope is active for the session. Every failure mode yields the same
// unauthorized response; the distinction lives only in the security log.
func RequireCSRF(guard *csrf.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		if err := guard.VerifyRequest(c.Request, sess.ActiveCSRFSecret()); err != nil {
			Logger(c).Warn("csrf verification failed",
				zap.Error(err),
				zap.String("session_state", string(sess.State)),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
