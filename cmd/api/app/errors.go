package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Error represents a structured error response.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response will be
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// AbortBind turns a ShouldBindJSON failure into a 400 with one entry per
// failed field.
func AbortBind(c *gin.Context, err error) {
	fields := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	if len(fields) == 0 {
		AbortError(c, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	AbortError(c, http.StatusBadRequest, "validation_failed", "request failed validation", fields)
}

// Errors emits a JSON error envelope and structured log entry when an error
// was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		logger := log.Ctx(c.Request.Context()).Warn()
		if status >= http.StatusInternalServerError {
			logger = log.Ctx(c.Request.Context()).Error()
		}
		logger = logger.Str("code", err.Code).Int("status", status)
		for k, v := range err.FieldErrors {
			logger = logger.Str("field_"+k, v)
		}
		logger.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}
