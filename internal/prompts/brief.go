package prompts

import (
	"strings"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// AgentTemplate picks the template of agent: the brief's prompt_replace
// override, else the pack's template for it.
func AgentTemplate(pack *models.AgentPack, agent models.Agent, settings models.BriefSettings) string {
	if o, ok := settings.Override(agent.Name); ok && o.PromptReplace != nil && strings.TrimSpace(*o.PromptReplace) != "" {
		return *o.PromptReplace
	}
	return pack.TemplateFor(agent)
}

// ApplyBriefInstructions appends the agent's prompt_append override and the
// brief's global instructions to a rendered template.
func ApplyBriefInstructions(rendered string, agent models.Agent, settings models.BriefSettings) string {
	var extra []string
	if o, ok := settings.Override(agent.Name); ok && o.PromptAppend != nil && strings.TrimSpace(*o.PromptAppend) != "" {
		extra = append(extra, strings.TrimSpace(*o.PromptAppend))
	}
	if g := settings.GlobalInstructions; g != nil && strings.TrimSpace(*g) != "" {
		extra = append(extra, "## BRIEF INSTRUCTIONS\n"+strings.TrimSpace(*g))
	}
	if len(extra) == 0 {
		return rendered
	}
	return rendered + "\n\n" + strings.Join(extra, "\n\n")
}
