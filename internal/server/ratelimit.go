package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimitStatus reports the caller's current window without consuming a slot.
func (s *Server) RateLimitStatus(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}

	decision, err := s.limiter.Status(c.Request.Context(), userID, c.Param("model"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// RateLimitCheck consumes a request slot and answers admission. A denial is a
// normal response, not an error, so callers always see the reset time.
func (s *Server) RateLimitCheck(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}

	decision, err := s.limiter.Check(c.Request.Context(), userID, c.Param("model"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, decision)
		return
	}
	c.JSON(http.StatusOK, decision)
}
