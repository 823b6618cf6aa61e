// Package service generates and caches AI-derived usage insights.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumilearn/creditcore/internal/clock"
	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
	obsmetrics "github.com/lumilearn/creditcore/internal/observability/metrics"
	"github.com/lumilearn/creditcore/internal/providers/ai"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	AI      ai.Client           `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	ai      ai.Client
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) insightdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("insight.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		ai:      p.AI,
		metrics: p.Metrics,
	}
}

func (s *Service) GetCached(ctx context.Context, subjectID snowflake.ID, periodDays int, locale, currentFingerprint string) (*insightdomain.InsightEntry, error) {
	var entry insightdomain.InsightEntry
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND period_days = ? AND locale = ?", subjectID, periodDays, locale).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.DataFingerprint != currentFingerprint {
		// Underlying activity changed; stale entries read as never
		// generated.
		return nil, nil
	}
	return &entry, nil
}

func (s *Service) Generate(ctx context.Context, req insightdomain.GenerateRequest) (*insightdomain.InsightEntry, error) {
	fingerprint := insightdomain.Fingerprint(req.Conversations, req.Messages, req.PeriodDays)

	suggestions := s.generateSuggestions(ctx, req)
	if len(suggestions) == 0 {
		// Provider failure or nothing parseable: serve the built-in set
		// without caching it, so the next call retries generation.
		s.metrics.RecordInsightGeneration(ctx, "fallback")
		return &insightdomain.InsightEntry{
			SubjectID:       req.SubjectID,
			PeriodDays:      req.PeriodDays,
			Locale:          req.Locale,
			Suggestions:     defaultSuggestions(),
			DataFingerprint: fingerprint,
			GeneratedAt:     s.clock.Now(),
		}, nil
	}

	entry := insightdomain.InsightEntry{
		ID:              s.genID.Generate(),
		SubjectID:       req.SubjectID,
		PeriodDays:      req.PeriodDays,
		Locale:          req.Locale,
		Suggestions:     suggestions,
		DataFingerprint: fingerprint,
		GeneratedAt:     s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}, {Name: "period_days"}, {Name: "locale"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"suggestions", "data_fingerprint", "generated_at",
		}),
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInsightGeneration(ctx, "generated")
	return &entry, nil
}

func (s *Service) generateSuggestions(ctx context.Context, req insightdomain.GenerateRequest) []insightdomain.Suggestion {
	if s.ai == nil {
		return nil
	}

	completion, err := s.ai.Complete(ctx, req.ModelID, []ai.Message{
		{Role: "system", Content: systemPrompt(req.Locale)},
		{Role: "user", Content: userPrompt(req)},
	})
	if err != nil {
		s.log.Warn("insight generation failed",
			zap.String("subject_id", req.SubjectID.String()), zap.Error(err))
		return nil
	}

	suggestions := ExtractSuggestions(completion.Content)
	if len(suggestions) == 0 {
		s.log.Warn("no valid suggestions in model response",
			zap.String("subject_id", req.SubjectID.String()))
	}
	return suggestions
}

func systemPrompt(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = "en"
	}
	return fmt.Sprintf(
		"You are a learning coach. Answer in locale %q with a JSON array of "+
			"suggestion objects, each with \"title\", \"description\", "+
			"\"category\" and \"priority\" fields. No prose outside the array.",
		locale,
	)
}

func userPrompt(req insightdomain.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity for %s over the last %d days: %d conversations, %d messages.",
		req.SubjectName, req.PeriodDays, req.Conversations, req.Messages)
	if len(req.TopTopics) > 0 {
		fmt.Fprintf(&b, " Most discussed topics: %s.", strings.Join(req.TopTopics, ", "))
	}
	b.WriteString(" Suggest 3 to 5 concrete next steps for the learner.")
	return b.String()
}

func defaultSuggestions() []insightdomain.Suggestion {
	return []insightdomain.Suggestion{
		{
			Title:       "Keep a steady rhythm",
			Description: "Short, regular sessions beat occasional long ones. Aim for a little practice every day.",
			Category:    "habit",
			Priority:    "high",
		},
		{
			Title:       "Revisit recent topics",
			Description: "Go back over the subjects from this week's conversations and try explaining them in your own words.",
			Category:    "review",
			Priority:    "medium",
		},
		{
			Title:       "Ask a follow-up question",
			Description: "Pick something that felt unclear and dig one level deeper next session.",
			Category:    "exploration",
			Priority:    "medium",
		},
	}
}
