package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
)

const headerUserID = "X-User-Id"

func userIDFromHeader(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetHeader(headerUserID))
	if raw == "" {
		_ = c.Error(errMissingUserHeader)
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		_ = c.Error(errInvalidUserID)
		return 0, false
	}
	return id, true
}

type creditSourceResponse struct {
	Source           creditdomain.SourceKind   `json:"source"`
	EffectiveBalance decimal.Decimal           `json:"effective_balance"`
	Detail           creditdomain.CreditSource `json:"detail"`
}

// GetCredits resolves the caller's spend target and effective balance.
func (s *Server) GetCredits(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}

	source, err := s.credits.Resolve(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, creditSourceResponse{
		Source:           source.Kind(),
		EffectiveBalance: creditdomain.EffectiveBalance(source),
		Detail:           source,
	})
}

type spendRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func bindSpendRequest(c *gin.Context) (spendRequest, bool) {
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errInvalidRequest)
		return spendRequest{}, false
	}
	return req, true
}

// CheckCanSpend answers admission without mutating any balance.
func (s *Server) CheckCanSpend(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}
	req, ok := bindSpendRequest(c)
	if !ok {
		return
	}

	check, err := s.credits.CanSpend(c.Request.Context(), userID, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// DeductCredits settles a pre-authorized spend, denying over-limit members.
func (s *Server) DeductCredits(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}
	req, ok := bindSpendRequest(c)
	if !ok {
		return
	}

	result, err := s.credits.Deduct(c.Request.Context(), userID, req.Amount, req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SettleCredits records a spend whose provider cost is already sunk.
func (s *Server) SettleCredits(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}
	req, ok := bindSpendRequest(c)
	if !ok {
		return
	}

	result, err := s.credits.Settle(c.Request.Context(), userID, req.Amount, req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
