package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// CardType enumerates context card kinds.
type CardType string

const (
	CardProduct     CardType = "product"
	CardTarget      CardType = "target"
	CardBrandVoice  CardType = "brand_voice"
	CardCompetitor  CardType = "competitor"
	CardTopic       CardType = "topic"
	CardCampaigns   CardType = "campaigns"
	CardPerformance CardType = "performance"
	CardFeedback    CardType = "feedback"
)

var cardLabels = map[CardType]string{
	CardProduct:     "Product",
	CardTarget:      "Target Audience",
	CardBrandVoice:  "Brand Voice",
	CardCompetitor:  "Competitor",
	CardTopic:       "Topic",
	CardCampaigns:   "Campaigns",
	CardPerformance: "Performance",
	CardFeedback:    "Feedback",
}

// Label returns the human readable name of the card type. Unknown types
// are returned verbatim.
func (t CardType) Label() string {
	if l, ok := cardLabels[t]; ok {
		return l
	}
	return string(t)
}

// Context is a brand profile.
type Context struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	BrandName    string    `db:"brand_name" json:"brand_name"`
	Website      *string   `db:"website" json:"website,omitempty"`
	Industry     *string   `db:"industry" json:"industry,omitempty"`
	CompanyInfo  JSONB     `db:"company_info" json:"company_info"`
	AudienceInfo JSONB     `db:"audience_info" json:"audience_info"`
	VoiceInfo    JSONB     `db:"voice_info" json:"voice_info"`
	GoalsInfo    JSONB     `db:"goals_info" json:"goals_info"`
	Status       string    `db:"status" json:"status"`
}

// Card is a structured fact attached to a context.
type Card struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ContextID uuid.UUID `db:"context_id" json:"context_id"`
	CardType  CardType  `db:"card_type" json:"card_type"`
	Title     string    `db:"title" json:"title"`
	Subtitle  *string   `db:"subtitle" json:"subtitle,omitempty"`
	Content   RawJSON   `db:"content" json:"content"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	IsVisible bool      `db:"is_visible" json:"is_visible"`
}

// ContextItem is one node of the hierarchical context data, stored flat
// with a parent pointer.
type ContextItem struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	ContextID uuid.UUID  `db:"context_id" json:"context_id"`
	ParentID  *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Content   *string    `db:"content" json:"content,omitempty"`
	Level     int        `db:"level" json:"level"`
	SortOrder int        `db:"sort_order" json:"sort_order"`
}

// Brief binds a context to an agent pack with answers.
type Brief struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	ContextID     uuid.UUID     `db:"context_id" json:"context_id"`
	PackID        uuid.UUID     `db:"pack_id" json:"pack_id"`
	UserID        uuid.UUID     `db:"user_id" json:"user_id"`
	Name          string        `db:"name" json:"name"`
	Slug          *string       `db:"slug" json:"slug,omitempty"`
	Description   *string       `db:"description" json:"description,omitempty"`
	Answers       JSONB         `db:"answers" json:"answers"`
	CompiledBrief *string       `db:"compiled_brief" json:"compiled_brief,omitempty"`
	Settings      BriefSettings `db:"settings" json:"settings"`
	Status        string        `db:"status" json:"status"`
}

// AgentOverride customizes one pack agent for a brief.
type AgentOverride struct {
	PromptAppend  *string  `json:"prompt_append,omitempty"`
	PromptReplace *string  `json:"prompt_replace,omitempty"`
	Model         *string  `json:"model,omitempty"`
	Provider      *string  `json:"provider,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
}

// BriefSettings is the briefs.settings jsonb column.
type BriefSettings struct {
	AgentOverrides     map[string]AgentOverride `json:"agent_overrides,omitempty"`
	GlobalInstructions *string                  `json:"global_instructions,omitempty"`
}

// Override returns the override registered for agent, if any.
func (s BriefSettings) Override(agent string) (AgentOverride, bool) {
	o, ok := s.AgentOverrides[agent]
	return o, ok
}

// Value implements the driver.Valuer interface
func (s BriefSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface
func (s *BriefSettings) Scan(value interface{}) error {
	return scanJSON(value, s)
}
