package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/security"
)

const identityKey = "identity"

// Identity validates the bearer token minted by the external auth service
// and exposes the {userId, username} pair to handlers. Authentication
// itself (credentials, roles) lives outside this service.
func Identity(cfg *config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := security.ParseIdentityToken(tokenStr, cfg.Security.IdentitySecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		if claims.UserID == "" || claims.Username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "incomplete_identity"})
			return
		}

		c.Set(identityKey, models.Identity{
			UserID:   claims.UserID,
			Username: claims.Username,
		})

		c.Next()
	}
}

// CurrentIdentity returns the identity set by the Identity middleware.
func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
