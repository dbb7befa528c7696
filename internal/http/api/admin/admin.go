// Package admin wires the privileged operator routes: credit grants and
// usage/session audit listings.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flowchat/creditgate/internal/config"
	"github.com/flowchat/creditgate/internal/http/api/admin/handlers"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/security"
)

// RegisterAdminRoutes registers the privileged routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, creditLedger *ledger.Ledger) {
	if r == nil || db == nil || cfg == nil {
		return
	}

	admin := r.Group("/v0/admin")
	admin.Use(adminAuthMiddleware(cfg))

	creditsHandler := handlers.NewCreditsHandler(db, creditLedger)
	admin.POST("/credits/allocate", creditsHandler.Allocate)
	admin.GET("/allocations", creditsHandler.Allocations)

	usageHandler := handlers.NewUsageHandler(db)
	admin.GET("/usage", usageHandler.List)
	admin.GET("/sessions", usageHandler.Sessions)
}

// adminAuthMiddleware accepts either an admin JWT bearer token or the raw
// operator key checked against the configured hash.
func adminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey := c.GetHeader("X-Admin-Key"); adminKey != "" {
			if cfg.AdminKeyHash != "" && security.CheckKey(cfg.AdminKeyHash, adminKey) {
				c.Set("adminName", "operator-key")
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing admin credentials"})
			return
		}

		claims, errJWT := security.ParseAdminToken(cfg.JWT.Secret, strings.TrimSpace(token))
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminID", claims.AdminID)
		c.Set("adminName", claims.Username)
		c.Next()
	}
}
