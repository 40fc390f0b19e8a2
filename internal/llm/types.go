// Package llm exposes one generation interface over the supported LLM
// providers and accounts tokens and cost for every call.
package llm

import (
	"context"
	"strings"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions tunes one call. Zero values select the defaults; a nil
// Temperature means DefaultTemperature.
type GenerateOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Response is the normalized result of a call.
type Response struct {
	Content   string  `json:"content"`
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Gateway generates a completion for an ordered message list.
type Gateway interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error)
}

// Request is what an adapter receives after defaults are applied.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completion is an adapter's raw answer, before pricing.
type Completion struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
}

// Adapter speaks one provider's wire protocol.
type Adapter interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// splitSystem separates system messages from the chat turns. Multiple
// system messages are joined with a blank line.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// flatten renders messages as a single prompt of "[ROLE]: content" blocks.
func flatten(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, "["+strings.ToUpper(string(m.Role))+"]: "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}
