package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hashit-app/hashit/service"
)

// contextIdentityKey is where the middleware stores the verified identity.
const contextIdentityKey = "identity"

// AuthMiddleware validates the bearer access token and injects the token
// identity into the request context.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")

		identity, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(contextIdentityKey, identity)
		c.Next()
	}
}
