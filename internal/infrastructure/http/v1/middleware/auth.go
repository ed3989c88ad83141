package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
)

// Authenticator validates bearer tokens and resolves the actor behind them.
type Authenticator interface {
	ValidateToken(token string) (*appctx.UserContext, error)
	// ResolveActor fails with NotFound when the actor no longer exists or is inactive.
	ResolveActor(ctx context.Context, user *appctx.UserContext) (*appctx.UserContext, error)
}

// Auth requires a valid bearer token and puts the actor into the request context.
func Auth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, apperror.NewUnauthorized("missing authorization header"))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			abort(c, apperror.NewUnauthorized("invalid authorization header format"))
			return
		}

		user, err := authn.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			abort(c, apperror.NewUnauthorized("invalid token").WithCause(err))
			return
		}
		actor, err := authn.ResolveActor(c.Request.Context(), user)
		if err != nil {
			abort(c, err)
			return
		}

		c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), actor))
		c.Set("actor_id", actor.UserID)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
