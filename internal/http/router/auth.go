package router

import (
	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/handler"
)

func AuthRouter(rg *gin.RouterGroup, h *handler.AuthHandler, requireAuth gin.HandlerFunc) {
	rg.POST("/login", h.Login)
	rg.POST("/logout", requireAuth, h.Logout)
}
