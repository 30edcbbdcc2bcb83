package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/service"
)

type SystemHandler struct {
	accountService service.AccountService
}

func NewSystemHandler(accountService service.AccountService) *SystemHandler {
	return &SystemHandler{accountService: accountService}
}

func (h *SystemHandler) Reload(c *gin.Context) {
	res, err := h.accountService.Reload(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to reload")
		return
	}
	c.JSON(http.StatusOK, res)
}
