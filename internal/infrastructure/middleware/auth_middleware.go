package middleware

import (
	"net/http"
	"strings"

	"peerlink/internal/core/services"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware guards admin endpoints with a bearer join token. The
// validated peer identity lands in the Gin context under "peer_id".
func AuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		peerID, err := tokens.ValidateJoinToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("peer_id", peerID)
		c.Next()
	}
}
