package middleware

import (
	"net/http"

	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/gin-gonic/gin"
)

// GuardSecondFactor forces a session with an outstanding second factor back
// to the prompt, no matter which endpoint the request targeted. The pending
// flag lives server-side, so this cannot be bypassed by the client.
func GuardSecondFactor() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess != nil && sess.PendingSecondFactor() {
			c.Redirect(http.StatusFound, "/verify-2fa")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RedirectAuthenticated sends already-authenticated sessions from the
// anonymous entry points (login, signup, reset) to their dashboard.
func RedirectAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess != nil && sess.IsAuthenticated() {
			c.Redirect(http.StatusFound, dashboardPath(sess.Identity.AccountType))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAuthenticated admits only fully authenticated sessions. A session
// pending its second factor is re-routed to the prompt; anything else goes
// back to the canonical entry point.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		if sess.PendingSecondFactor() {
			c.Redirect(http.StatusFound, "/verify-2fa")
			c.Abort()
			return
		}
		if !sess.IsAuthenticated() {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAccountType narrows an authenticated route to one role.
func RequireAccountType(accountType models.AccountType) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil || !sess.IsAuthenticated() {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		if sess.Identity.AccountType != accountType {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func dashboardPath(accountType models.AccountType) string {
	return "/" + string(accountType) + "/dashboard"
}
