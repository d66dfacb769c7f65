package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/coach-realtime/pkg/errors"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/validator"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Fields  []validator.FieldError `json:"fields,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// ErrorHandler renders the last error a handler attached with c.Error.
// Internal errors are logged and never shown to the client.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		traceID := c.GetString(ContextRequestID)
		err := c.Errors.Last().Err

		resp := ErrorResponse{TraceID: traceID}
		var fields validator.Errors
		var appErr *apperrors.AppError
		switch {
		case errors.As(validator.Translate(err), &fields):
			resp.Code = http.StatusBadRequest
			resp.Message = "validation failed"
			resp.Fields = fields
		case errors.As(err, &appErr):
			resp.Code = appErr.StatusCode()
			resp.Message = appErr.Message
		default:
			resp.Code = http.StatusInternalServerError
		}

		if resp.Code >= http.StatusInternalServerError {
			resp.Message = "internal server error"
			log.Error(err, "Request error",
				"request_id", traceID,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		c.AbortWithStatusJSON(resp.Code, resp)
	}
}
