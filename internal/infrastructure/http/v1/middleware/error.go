package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spendchain/internal/core/apperror"
	"spendchain/pkg/logger"
)

// ErrorHandler renders the last handler error as
// {error, code, message, details}. Internal causes are logged, never returned.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr, ok := apperror.AsAppError(err)
		if !ok {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
			appErr = apperror.NewInternal(err).WithDetail("request_id", c.GetString(ctxRequestID))
		} else if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}

		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, errorBody(appErr))
	}
}

func errorBody(appErr *apperror.AppError) gin.H {
	return gin.H{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}
}
