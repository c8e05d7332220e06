package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity copies the X-User-Id header set by the upstream gateway into the
// request context. Requests without an identity are rejected; authentication
// itself happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}
