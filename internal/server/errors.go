package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/divetrail/concierge/internal/quota/domain"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, quotadomain.ErrTicketsExhausted):
		return http.StatusTooManyRequests, errorPayload{Type: "tickets_exhausted", Message: "no chat tickets remaining"}
	case errors.Is(err, quotadomain.ErrServiceFailed):
		return http.StatusBadGateway, errorPayload{Type: "service_failed", Message: "assistant request failed"}
	case errors.Is(err, ticketdomain.ErrConflict):
		return http.StatusConflict, errorPayload{Type: "spend_conflict", Message: "concurrent spend detected, retry"}
	case errors.Is(err, ticketdomain.ErrInvalidOwner),
		errors.Is(err, ticketdomain.ErrInvalidReason),
		errors.Is(err, ticketdomain.ErrInvalidCategory),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "missing or invalid session owner"}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "unexpected error"}
	}
}
