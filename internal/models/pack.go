package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// ToolKind names a tool an agent may invoke before its LLM call.
type ToolKind string

const (
	ToolPerplexitySearch ToolKind = "perplexity_search"
	ToolImageGeneration  ToolKind = "image_generation"
)

// KnownTools lists every tool kind the executor can dispatch.
var KnownTools = []ToolKind{ToolPerplexitySearch, ToolImageGeneration}

// IsKnown reports whether the executor can dispatch this tool.
func (k ToolKind) IsKnown() bool {
	for _, t := range KnownTools {
		if t == k {
			return true
		}
	}
	return false
}

// Agent is one step of a pack pipeline.
type Agent struct {
	Name   string     `json:"name" yaml:"name" validate:"required,max=120"`
	Role   string     `json:"role" yaml:"role" validate:"required"`
	Prompt string     `json:"prompt,omitempty" yaml:"prompt"`
	Tools  []ToolKind `json:"tools,omitempty" yaml:"tools" validate:"dive,toolkind"`
}

// Agents is the ordered agents_config column. Order is execution order.
type Agents []Agent

// Value implements the driver.Valuer interface
func (a Agents) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface
func (a *Agents) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// DuplicateName returns the first name used by more than one agent.
func (a Agents) DuplicateName() (string, bool) {
	seen := make(map[string]bool, len(a))
	for _, agent := range a {
		if seen[agent.Name] {
			return agent.Name, true
		}
		seen[agent.Name] = true
	}
	return "", false
}

// StringMap is a jsonb object of string values.
type StringMap map[string]string

// Value implements the driver.Valuer interface
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface
func (m *StringMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// AgentPack is a reusable ordered pipeline of agents.
type AgentPack struct {
	ID                 uuid.UUID `db:"id" json:"id" yaml:"id"`
	Slug               string    `db:"slug" json:"slug" yaml:"slug" validate:"required"`
	Name               string    `db:"name" json:"name" yaml:"name" validate:"required"`
	AgentsConfig       Agents    `db:"agents_config" json:"agents_config" yaml:"agents_config" validate:"required,min=1,unique=Name,dive"`
	PromptTemplates    StringMap `db:"prompt_templates" json:"prompt_templates" yaml:"prompt_templates"`
	DefaultLLMProvider string    `db:"default_llm_provider" json:"default_llm_provider" yaml:"default_llm_provider" validate:"omitempty,provider"`
	DefaultLLMModel    *string   `db:"default_llm_model" json:"default_llm_model,omitempty" yaml:"default_llm_model"`
	IsActive           bool      `db:"is_active" json:"is_active" yaml:"is_active"`
}

// TemplateFor returns the prompt template of agent: its own prompt, the
// legacy prompt_templates entry, or a role sentence.
func (p *AgentPack) TemplateFor(a Agent) string {
	if a.Prompt != "" {
		return a.Prompt
	}
	if t, ok := p.PromptTemplates[a.Name]; ok && t != "" {
		return t
	}
	return "You are a " + a.Role + "."
}
