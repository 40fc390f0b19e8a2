package prompts

import (
	"fmt"
	"strings"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

const (
	maxReferences     = 3
	maxGuardrails     = 5
	referenceExcerpt  = 300
	mandatoryRulesHdr = "## MANDATORY RULES FROM ARCHIVE FEEDBACK"
)

// BuildArchivePrompt renders references and guardrails as the mandatory
// rules block. It returns "" when both are empty. Items keep the order
// they were retrieved in.
func BuildArchivePrompt(references, guardrails []models.ArchiveItem) string {
	if len(references) == 0 && len(guardrails) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(mandatoryRulesHdr + "\n")
	b.WriteString("The rules below come from human review of earlier content for this brand. They override any conflicting instruction.\n")

	if len(references) > 0 {
		b.WriteString("\n### APPROVED REFERENCES (emulate their style and tone)\n")
		for _, ref := range head(references, maxReferences) {
			fmt.Fprintf(&b, "- Topic: %s\n", ref.Topic)
			if ref.ReferenceNotes != nil && *ref.ReferenceNotes != "" {
				fmt.Fprintf(&b, "  Notes: %s\n", *ref.ReferenceNotes)
			}
			if ref.OutputText != nil && *ref.OutputText != "" {
				fmt.Fprintf(&b, "  Excerpt: %s\n", util.Excerpt(*ref.OutputText, referenceExcerpt))
			}
		}
	}

	if len(guardrails) > 0 {
		b.WriteString("\n### CRITICAL GUARDRAILS (rejected content: never repeat the cause of rejection)\n")
		for _, g := range head(guardrails, maxGuardrails) {
			fmt.Fprintf(&b, "- Topic: %s\n", g.Topic)
			fmt.Fprintf(&b, "  Feedback: %s\n", valueOr(g.Feedback, "N/A"))
			if len(g.FeedbackCategories) > 0 {
				fmt.Fprintf(&b, "  Categories: %s\n", strings.Join(g.FeedbackCategories, ", "))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// UserMessage is the user turn of every step. With guardrails it repeats
// their feedback so it is the last thing the model reads.
func UserMessage(topic string, guardrails []models.ArchiveItem) string {
	msg := "Topic: " + topic
	if len(guardrails) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	b.WriteString("\n\nBefore writing, re-read the MANDATORY RULES in the system prompt.")
	var items []string
	for _, g := range head(guardrails, maxGuardrails) {
		if g.Feedback != nil && strings.TrimSpace(*g.Feedback) != "" {
			items = append(items, strings.TrimSpace(*g.Feedback))
		}
	}
	if len(items) > 0 {
		b.WriteString(" Previously rejected content received this feedback:")
		for _, f := range items {
			fmt.Fprintf(&b, "\n- %s", f)
		}
	}
	return b.String()
}

func head(items []models.ArchiveItem, n int) []models.ArchiveItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}
