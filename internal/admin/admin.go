package admin

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// User is a partial row for maintenance queries; only the reset-token pair
// is touched here.
type User struct {
	ResetTokenHash      *string    `gorm:"column:reset_token_hash"`
	ResetTokenExpiresAt *time.Time `gorm:"column:reset_token_expires_at"`
}

func (User) TableName() string { return "users" }

// Setup mounts the operational maintenance surface. These endpoints are meant
// for a scheduler, not a browser, so they sit outside the session and CSRF
// machinery and authenticate with a shared cron secret instead.
func Setup(router *gin.Engine, db *gorm.DB) {
	group := router.Group("/api/admin")
	{
		group.POST("/purge-reset-tokens", purgeResetTokens(db))
	}
}

// purgeResetTokens clears expired reset-token pairs. Expired tokens already
// fail verification; this keeps the table from accumulating dead hashes.
func purgeResetTokens(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Cron-Secret")
		envSecret := os.Getenv("CLEANUP_SECRET")
		if secret == "" || secret != envSecret {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or missing X-Cron-Secret"})
			return
		}

		result := db.Model(&User{}).
			Where("reset_token_expires_at < ?", time.Now().UTC()).
			Updates(map[string]interface{}{
				"reset_token_hash":       nil,
				"reset_token_expires_at": nil,
			})
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":        "Purge complete",
			"tokens_cleared": result.RowsAffected,
		})
	}
}
