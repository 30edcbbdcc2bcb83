package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/common/logger"
	"github.com/legeling/xianyu-auto-reply/internal/service"
	"github.com/legeling/xianyu-auto-reply/internal/session"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	tokenContextKey     contextKey = "token"
)

// Authenticator is the slice of service.AuthService the middleware needs.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (session.Principal, error)
}

// RequireAuth rejects requests without a valid bearer token and attaches
// the principal to the request context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		ctx := c.Request.Context()
		p, err := auth.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired or invalid"})
				return
			}
			slog.ErrorContext(ctx, "failed to validate token", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate session"})
			return
		}

		ctx = context.WithValue(ctx, principalContextKey, p)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		ownerID := p.OwnerID
		ctx = logger.WithLogFields(ctx, logger.LogFields{OwnerID: &ownerID})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func GetPrincipal(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(session.Principal)
	return p, ok
}

func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// WithPrincipal attaches p as if RequireAuth had run. Used by handler tests.
func WithPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
