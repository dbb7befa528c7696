// Package front wires the user-facing routes: credit queries, the streaming
// chat endpoint and the stream finalize call.
package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flowchat/creditgate/internal/config"
	"github.com/flowchat/creditgate/internal/http/api/front/handlers"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/models"
	"github.com/flowchat/creditgate/internal/pricing"
	"github.com/flowchat/creditgate/internal/security"
	"github.com/flowchat/creditgate/internal/usage"
)

// RegisterFrontRoutes registers the authenticated front-end routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, creditLedger *ledger.Ledger, calc *pricing.Calculator, coordinator *usage.Coordinator) {
	if r == nil || db == nil {
		return
	}

	front := r.Group("/v0/front")
	front.Use(userAuthMiddleware(db, jwtCfg))

	creditsHandler := handlers.NewCreditsHandler(creditLedger, calc)
	front.GET("/credits/balance", creditsHandler.Balance)
	front.POST("/credits/check", creditsHandler.Check)
	front.POST("/credits/calculate", creditsHandler.Calculate)

	chatHandler := handlers.NewChatHandler(coordinator)
	front.POST("/chat/stream", chatHandler.Stream)
	front.POST("/sessions/:chatSessionId/update-stream", chatHandler.UpdateStream)

	usageHandler := handlers.NewUsageHandler(db)
	front.GET("/usage", usageHandler.List)
}

// userAuthMiddleware validates user JWTs issued by the auth service and
// loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error
		if errFind == nil && user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}
		// A verified token for a not-yet-provisioned user is fine: the
		// ledger auto-creates the row on first allocation and every
		// operation before that sees a zero balance.

		c.Set("userID", claims.UserID)
		c.Next()
	}
}
