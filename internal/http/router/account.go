package router

import (
	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/handler"
)

func AccountRouter(rg *gin.RouterGroup, h *handler.AccountHandler) {
	rg.GET("", h.List)
	rg.POST("", h.Add)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Remove)
	rg.PUT("/:id/credential", h.UpdateCredential)
	rg.PUT("/:id/status", h.SetStatus)
	rg.GET("/:id/keywords", h.Keywords)
	rg.PUT("/:id/keywords", h.UpdateKeywords)
	rg.DELETE("/:id/keywords", h.RemoveKeyword)
	rg.POST("/:id/image-keywords", h.AddImageKeyword)
	rg.PUT("/:id/remark", h.SetRemark)
	rg.PUT("/:id/auto-confirm", h.SetAutoConfirm)
	rg.PUT("/:id/pause-duration", h.SetPauseDuration)
	rg.GET("/:id/default-reply", h.DefaultReply)
	rg.PUT("/:id/default-reply", h.SetDefaultReply)
	rg.POST("/:id/default-reply/clear-records", h.ClearDefaultReplyRecords)
	rg.POST("/:id/messages", h.SendMessage)
	rg.POST("/:id/reply", h.Reply)
}
