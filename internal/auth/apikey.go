package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ownerCtxKey is the Gin context key used to store the authenticated owner ID.
const ownerCtxKey = "owner_id"

// APIKeyMiddleware enforces owner scoping by mapping X-API-Key → ownerID.
// In production this mapping would typically come from IAM/JWT/Secret Manager.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		ownerID, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ownerCtxKey, ownerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner ID from the request context.
func OwnerID(c *gin.Context) string {
	v, _ := c.Get(ownerCtxKey)
	s, _ := v.(string)
	return s
}
