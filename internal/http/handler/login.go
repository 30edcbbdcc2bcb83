package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/dto"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

type LoginHandler struct {
	loginService service.LoginFlowService
}

func NewLoginHandler(loginService service.LoginFlowService) *LoginHandler {
	return &LoginHandler{loginService: loginService}
}

func (h *LoginHandler) Start(c *gin.Context) {
	sess, err := h.loginService.Start(c.Request.Context(), ownerID(c))
	if err != nil {
		writeError(c, err, "failed to start login")
		return
	}
	c.JSON(http.StatusCreated, dto.ToChallengeResponse(sess))
}

func (h *LoginHandler) Check(c *gin.Context) {
	id := c.Param("id")
	res, err := h.loginService.Check(c.Request.Context(), ownerID(c), id)
	if err != nil {
		writeError(c, err, "failed to check login")
		return
	}
	c.JSON(http.StatusOK, dto.ToChallengeStatusResponse(id, res))
}
