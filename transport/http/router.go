package http

import (
	"github.com/gin-gonic/gin"

	"github.com/hashit-app/hashit/service"
)

// SetupRouter wires the auth endpoints and the protected API group.
// devLogin exposes the throwaway-wallet login helper and must stay off
// outside local environments.
func SetupRouter(authService *service.AuthService, devLogin bool) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(authService)

	auth := router.Group("/auth")
	{
		auth.GET("/web3", handlers.Challenge)
		auth.POST("/token", handlers.Token)
		auth.POST("/token/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
		if devLogin {
			auth.GET("/login/test", handlers.TestLogin)
		}
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
