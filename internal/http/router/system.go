package router

import (
	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/handler"
)

func SystemRouter(rg *gin.RouterGroup, h *handler.SystemHandler) {
	rg.POST("/reload", h.Reload)
}

func LoginRouter(rg *gin.RouterGroup, h *handler.LoginHandler) {
	rg.POST("/challenges", h.Start)
	rg.GET("/challenges/:id", h.Check)
}

func EventRouter(rg *gin.RouterGroup, h *handler.EventHandler) {
	rg.GET("", h.List)
}
