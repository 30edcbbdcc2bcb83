package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/common/logger"
)

const httpComponent = "autoreply.http"

// quietRoutes log at debug so pollers do not drown the request log.
var quietRoutes = map[string]bool{
	"/health": true,
}

// Logger tags the request context with the path account so every log line
// below the router carries account_id, then writes one line per request.
// owner_id arrives through RequireAuth further down the chain.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		fields := logger.LogFields{Component: httpComponent}
		if id := c.Param("id"); id != "" {
			fields.AccountID = logger.Ptr(id)
		}
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), fields))

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()
		route := c.FullPath()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request rejected", attrs...)
		case quietRoutes[route]:
			slog.DebugContext(ctx, "request", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
