package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/sadhana/internal/service"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Code    service.Code         `json:"code"`
	Reason  string               `json:"reason,omitempty"`
	Message string               `json:"message"`
	Fields  []service.FieldError `json:"fields,omitempty"`
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeConflict:
		return http.StatusConflict
	case service.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case service.CodeUnsupportedProfile:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		c.AbortWithStatusJSON(statusFor(se.Code), gin.H{"error": errorBody{
			Code:    se.Code,
			Reason:  se.Reason,
			Message: se.Message,
			Fields:  se.Fields,
		}})
		return
	}
	s.logger.Error("request failed", "route", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{
		Code:    "INTERNAL",
		Message: "internal error",
	}})
}

// badRequest reports a body or query that could not be decoded.
func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": errorBody{
		Code:    service.CodeValidationFailed,
		Reason:  service.ReasonInvalidRequest,
		Message: err.Error(),
	}})
}
