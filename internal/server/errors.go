package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	"github.com/lumilearn/creditcore/internal/observability/logger"
)

var (
	errMissingUserHeader = errors.New("missing_user_header")
	errInvalidUserID     = errors.New("invalid_user_id")
	errInvalidRequest    = errors.New("invalid_request")
	errInsightNotFound   = errors.New("insight_not_found")
)

type errorResponse struct {
	Error string `json:"error"`
}

// ErrorHandlingMiddleware converts errors attached to the gin context
// into a JSON error body with an appropriate status code.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			c.JSON(status, errorResponse{Error: "internal_error"})
			return
		}
		c.JSON(status, errorResponse{Error: err.Error()})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingUserHeader), errors.Is(err, errInvalidUserID):
		return http.StatusUnauthorized
	case errors.Is(err, errInvalidRequest), errors.Is(err, creditdomain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, creditdomain.ErrWalletNotFound), errors.Is(err, errInsightNotFound):
		return http.StatusNotFound
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
