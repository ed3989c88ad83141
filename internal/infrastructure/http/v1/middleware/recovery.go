// Package middleware provides the gin middleware of the spendchain API.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"spendchain/internal/core/apperror"
	"spendchain/pkg/logger"
)

// Recovery turns a panic into a 500 without exposing internals.
// Any open transaction has already been rolled back by the TxManager.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", p,
					"stack", string(debug.Stack()),
				)
				appErr := apperror.NewInternal(fmt.Errorf("panic: %v", p)).
					WithDetail("request_id", c.GetString(ctxRequestID))
				_ = c.Error(appErr)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(appErr))
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
