package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// HTTPError is an error with a status code and a message safe to return to
// clients. The wrapped cause is only logged.
type HTTPError struct {
	Code    int
	Message string
	Details map[string]string
	Cause   error
}

func (e *HTTPError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Cause }

func errBadRequest(msg string, cause error) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: msg, Cause: cause}
}

func errNotFound(msg string) *HTTPError {
	return &HTTPError{Code: http.StatusNotFound, Message: msg}
}

func errInternal(cause error) *HTTPError {
	return &HTTPError{Code: http.StatusInternalServerError, Message: "internal server error", Cause: cause}
}

// errValidation turns binding failures into a 400 with one entry per field.
func errValidation(err error) *HTTPError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errBadRequest("invalid request body", err)
	}
	details := make(map[string]string, len(ve))
	for _, fe := range ve {
		details[jsonFieldName(fe)] = validationMessage(fe)
	}
	return &HTTPError{Code: http.StatusBadRequest, Message: "validation failed", Details: details, Cause: err}
}

func jsonFieldName(fe validator.FieldError) string {
	f := fe.Field()
	if f == "" {
		return f
	}
	return strings.ToLower(f[:1]) + f[1:]
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var he *HTTPError
	if !errors.As(err, &he) {
		he = errInternal(err)
	}

	log := h.log.With().Str("method", c.Request.Method).Str("path", c.FullPath()).Int("status", he.Code).Logger()
	if he.Code >= http.StatusInternalServerError {
		log.Error().Err(he.Cause).Msg(he.Message)
	} else if he.Cause != nil {
		log.Debug().Err(he.Cause).Msg(he.Message)
	}

	body := gin.H{"error": he.Message}
	if len(he.Details) > 0 {
		body["details"] = he.Details
	}
	c.AbortWithStatusJSON(he.Code, body)
}
