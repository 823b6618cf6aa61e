// Package domain contains the derived-insight cache model and contracts.
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Suggestion is one generated learning suggestion.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// InsightEntry caches generated suggestions for a subject and period. The
// fingerprint ties the entry to the activity counts it was derived from; a
// mismatch is a miss, identical to never-generated.
type InsightEntry struct {
	ID              snowflake.ID                    `gorm:"primaryKey"`
	SubjectID       snowflake.ID                    `gorm:"not null;uniqueIndex:ux_insight_subject_period_locale,priority:1"`
	PeriodDays      int                             `gorm:"not null;uniqueIndex:ux_insight_subject_period_locale,priority:2"`
	Locale          string                          `gorm:"type:text;not null;uniqueIndex:ux_insight_subject_period_locale,priority:3"`
	Suggestions     datatypes.JSONSlice[Suggestion] `gorm:"type:jsonb"`
	DataFingerprint string                          `gorm:"type:text;not null"`
	GeneratedAt     time.Time                       `gorm:"not null"`
}

// TableName sets the database table name.
func (InsightEntry) TableName() string { return "insight_entries" }

// Fingerprint digests the activity counts a generation depends on. The
// contract is determinism and sensitivity to each input, not secrecy.
func Fingerprint(conversations, messages, periodDays int) string {
	return fmt.Sprintf("%d:%d:%d", conversations, messages, periodDays)
}

// GenerateRequest carries the aggregated analytics a generation runs on.
type GenerateRequest struct {
	SubjectID     snowflake.ID
	SubjectName   string
	PeriodDays    int
	Locale        string
	Conversations int
	Messages      int
	TopTopics     []string
	ModelID       string
}

type Service interface {
	// GetCached returns the stored entry only while its fingerprint still
	// matches the current one; nil means miss.
	GetCached(ctx context.Context, subjectID snowflake.ID, periodDays int, locale, currentFingerprint string) (*InsightEntry, error)

	// Generate builds suggestions from the analytics, caches them under a
	// fresh fingerprint, and degrades to a built-in default set on
	// provider failure.
	Generate(ctx context.Context, req GenerateRequest) (*InsightEntry, error)
}
