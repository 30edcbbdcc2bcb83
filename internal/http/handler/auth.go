package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/http/dto"
	"github.com/legeling/xianyu-auto-reply/internal/http/middleware"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

type AuthHandler struct {
	authService service.AuthService
}

func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.authService.Login(ctx, req.Username, req.Password)
	if err != nil {
		writeError(c, err, "failed to log in")
		return
	}

	c.JSON(http.StatusOK, dto.ToLoginResponse(res.Token, res.Owner))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.authService.Logout(ctx, middleware.GetToken(ctx)); err != nil {
		writeError(c, err, "failed to log out")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
