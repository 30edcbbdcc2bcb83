package router

import (
	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/handler"
	"github.com/legeling/xianyu-auto-reply/internal/http/middleware"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := services.Auth()
	requireAuth := middleware.RequireAuth(auth)
	authHandler := handler.NewAuthHandler(auth)

	v1 := router.Group("/api/v1")
	{
		AuthRouter(v1.Group("/auth"), authHandler, requireAuth)

		accounts := services.Accounts()

		AccountRouter(v1.Group("/accounts", requireAuth), handler.NewAccountHandler(accounts))
		SystemRouter(v1.Group("/system", requireAuth), handler.NewSystemHandler(accounts))
		LoginRouter(v1.Group("/login", requireAuth), handler.NewLoginHandler(services.LoginFlow()))
		EventRouter(v1.Group("/events", requireAuth), handler.NewEventHandler(services.Events()))
	}
}
