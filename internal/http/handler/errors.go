package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/login"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/service"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, login.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrConflict), errors.Is(err, store.ErrConflict), errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrShuttingDown), errors.Is(err, service.ErrEventsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. Internal errors are logged and
// their text withheld.
func writeError(c *gin.Context, err error, msg string) {
	_ = c.Error(err)
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), msg, "error", err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
