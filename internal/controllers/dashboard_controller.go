package controllers

import (
	"net/http"

	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DashboardController serves the role dashboards. The payroll widgets
// themselves live elsewhere; these endpoints expose the authenticated
// identity snapshot and a fresh CSRF token for the page's forms.
type DashboardController struct{}

func NewDashboardController() *DashboardController {
	return &DashboardController{}
}

func (dc *DashboardController) ManagerDashboard(c *gin.Context) {
	dc.render(c)
}

func (dc *DashboardController) EmployeeDashboard(c *gin.Context) {
	dc.render(c)
}

func (dc *DashboardController) render(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	token, err := csrf.IssueToken(sess.ActiveCSRFSecret())
	if err != nil {
		middleware.Logger(c).Error("failed to issue csrf token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       sess.Identity,
		"csrf_token": token,
	})
}
