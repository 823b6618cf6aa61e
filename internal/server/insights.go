package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
)

func subjectIDFromPath(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("subject"))
	if err != nil {
		_ = c.Error(errInvalidRequest)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return parsed
}

// GetCachedInsights returns the stored suggestions for a subject when the
// fingerprint derived from the current activity counts still matches.
func (s *Server) GetCachedInsights(c *gin.Context) {
	subjectID, ok := subjectIDFromPath(c)
	if !ok {
		return
	}

	periodDays := queryInt(c, "period_days", 30)
	locale := strings.TrimSpace(c.Query("locale"))
	if locale == "" {
		locale = "en"
	}
	fingerprint := insightdomain.Fingerprint(
		queryInt(c, "conversations", 0),
		queryInt(c, "messages", 0),
		periodDays,
	)

	entry, err := s.insights.GetCached(c.Request.Context(), subjectID, periodDays, locale, fingerprint)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if entry == nil {
		_ = c.Error(errInsightNotFound)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type generateInsightsRequest struct {
	SubjectName   string   `json:"subject_name"`
	PeriodDays    int      `json:"period_days"`
	Locale        string   `json:"locale"`
	Conversations int      `json:"conversations"`
	Messages      int      `json:"messages"`
	TopTopics     []string `json:"top_topics"`
	ModelID       string   `json:"model_id"`
}

// GenerateInsights builds and caches fresh suggestions for a subject.
func (s *Server) GenerateInsights(c *gin.Context) {
	subjectID, ok := subjectIDFromPath(c)
	if !ok {
		return
	}

	var req generateInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errInvalidRequest)
		return
	}
	if req.PeriodDays <= 0 {
		req.PeriodDays = 30
	}
	if strings.TrimSpace(req.Locale) == "" {
		req.Locale = "en"
	}

	entry, err := s.insights.Generate(c.Request.Context(), insightdomain.GenerateRequest{
		SubjectID:     subjectID,
		SubjectName:   req.SubjectName,
		PeriodDays:    req.PeriodDays,
		Locale:        req.Locale,
		Conversations: req.Conversations,
		Messages:      req.Messages,
		TopTopics:     req.TopTopics,
		ModelID:       req.ModelID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
