// Package middleware provides the HTTP middleware chain of the change
// service: request tracing, JWT authentication, the change-discipline
// permission gate and centralized error handling.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// ErrorHandler captures errors added via c.Error() and renders a consistent
// JSON response. Handlers push errors, this middleware decides the shape.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			logger.Warn("request error",
				zap.String("request_id", GetRequestID(c.Request.Context())),
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.Error(appErr.Err),
			)
			body := gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			}
			if len(appErr.Params) > 0 {
				body["params"] = appErr.Params
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "resource not found",
			})
			return
		case errors.Is(err, apperrors.ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{
				"code":    apperrors.CodeDeviceExists,
				"message": "resource already exists",
			})
			return
		}

		logger.Error("unhandled request error",
			zap.String("request_id", GetRequestID(c.Request.Context())),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "an internal error occurred",
		})
	}
}
