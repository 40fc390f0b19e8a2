package prompts

import (
	"fmt"
	"strings"

	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

// maxSectionEntry bounds each tool result and prior output in the prompt.
const maxSectionEntry = 2000

// NamedText is one labelled entry of the tool results or prior outputs
// sections.
type NamedText struct {
	Name string
	Text string
}

// SystemPromptParts are the layers of a step's system prompt.
type SystemPromptParts struct {
	Template         string // already rendered
	Archive          string
	Language         string
	ExecutionContext string
	ToolResults      []NamedText
	PriorOutputs     []NamedText
}

// ComposeSystemPrompt layers the parts in priority order: template,
// archive rules, language directive, execution context, tool results,
// prior outputs.
func ComposeSystemPrompt(p SystemPromptParts) string {
	sections := []string{strings.TrimSpace(p.Template)}
	if p.Archive != "" {
		sections = append(sections, p.Archive)
	}
	sections = append(sections, LanguageDirective(p.Language))
	if p.ExecutionContext != "" {
		sections = append(sections, p.ExecutionContext)
	}
	if len(p.ToolResults) > 0 {
		sections = append(sections, labelled("## TOOL RESULTS", p.ToolResults))
	}
	if len(p.PriorOutputs) > 0 {
		sections = append(sections, labelled("## PREVIOUS AGENT OUTPUTS", p.PriorOutputs))
	}
	return strings.Join(sections, "\n\n")
}

// LanguageDirective tells the model which language to write in.
func LanguageDirective(language string) string {
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf("## OUTPUT LANGUAGE\nWrite the entire response in %s, regardless of the language of the material below.", language)
}

// PriorOutputs converts finished steps into prompt entries.
func PriorOutputs(a *AgentOutputs) []NamedText {
	var out []NamedText
	for _, o := range a.Ordered() {
		out = append(out, NamedText{Name: o.Name, Text: o.Output})
	}
	return out
}

func labelled(heading string, entries []NamedText) string {
	var b strings.Builder
	b.WriteString(heading)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- %s: %s", e.Name, util.Head(e.Text, maxSectionEntry))
	}
	return b.String()
}
