// Package prompts assembles the text sent to the LLM for each agent step.
// Every function is pure: identical inputs yield identical output.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/validation"
)

// ExecutionInput is everything the static execution context is built from.
type ExecutionInput struct {
	Context *models.Context
	Brief   *models.Brief
	Cards   []models.Card
	Items   []models.ContextItem
	Topic   string
}

// TreeNode is one context item with its ordered children.
type TreeNode struct {
	Item     models.ContextItem
	Children []*TreeNode
}

// BuildTree links flat parent-pointer items into a forest. Items whose
// parent is missing, or whose parent chain loops, become roots. Siblings
// are ordered by sort_order, then name.
func BuildTree(items []models.ContextItem) []*TreeNode {
	nodes := make(map[uuid.UUID]*TreeNode, len(items))
	links := make([]validation.ParentLink, 0, len(items))
	for _, it := range items {
		nodes[it.ID] = &TreeNode{Item: it}
		link := validation.ParentLink{ID: it.ID.String()}
		if it.ParentID != nil {
			link.ParentID = it.ParentID.String()
		}
		links = append(links, link)
	}

	cyclic := map[string]bool{}
	if res := validation.DetectParentCycles(links); res.HasCycle {
		for _, id := range res.CycleNodes {
			cyclic[id] = true
		}
	}

	var roots []*TreeNode
	placed := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		if placed[it.ID] {
			continue
		}
		placed[it.ID] = true
		n := nodes[it.ID]
		var parent *TreeNode
		if it.ParentID != nil && !cyclic[it.ID.String()] {
			parent = nodes[*it.ParentID]
		}
		if parent == nil {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(ns []*TreeNode) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i].Item, ns[j].Item
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	for _, n := range ns {
		sortNodes(n.Children)
	}
}

// BuildExecutionContext renders brand identity, cards, hierarchical data,
// the brief and the topic line.
func BuildExecutionContext(in ExecutionInput) string {
	var b strings.Builder

	if c := in.Context; c != nil {
		fmt.Fprintf(&b, "## CONTEXT: %s\n", c.BrandName)
		fmt.Fprintf(&b, "Industry: %s\n", valueOr(c.Industry, "N/A"))
		if c.Website != nil && *c.Website != "" {
			fmt.Fprintf(&b, "Website: %s\n", *c.Website)
		}
		fmt.Fprintf(&b, "Company: %s\n", prettyJSON(c.CompanyInfo))
		fmt.Fprintf(&b, "Audience: %s\n", prettyJSON(c.AudienceInfo))
		fmt.Fprintf(&b, "Voice: %s\n", prettyJSON(c.VoiceInfo))
		fmt.Fprintf(&b, "Goals: %s\n", prettyJSON(c.GoalsInfo))
		b.WriteString("\n")
	}

	if len(in.Cards) > 0 {
		cards := append([]models.Card(nil), in.Cards...)
		sort.SliceStable(cards, func(i, j int) bool { return cards[i].SortOrder < cards[j].SortOrder })

		b.WriteString("## CONTEXT CARDS\n")
		for _, card := range cards {
			fmt.Fprintf(&b, "### %s: %s\n", card.CardType.Label(), card.Title)
			if card.Subtitle != nil && *card.Subtitle != "" {
				fmt.Fprintf(&b, "%s\n", *card.Subtitle)
			}
			if content := cardContent(card.Content); content != "" {
				fmt.Fprintf(&b, "%s\n", content)
			}
			b.WriteString("\n")
		}
	}

	if tree := BuildTree(in.Items); len(tree) > 0 {
		b.WriteString("## HIERARCHICAL DATA\n")
		for _, n := range tree {
			writeNode(&b, n, 0)
		}
		b.WriteString("\n")
	}

	if br := in.Brief; br != nil {
		b.WriteString("## BRIEF\n")
		fmt.Fprintf(&b, "Name: %s\n", br.Name)
		if br.Description != nil && *br.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", *br.Description)
		}
		fmt.Fprintf(&b, "Answers: %s\n", prettyJSON(br.Answers))
		fmt.Fprintf(&b, "Compiled: %s\n", valueOr(br.CompiledBrief, ""))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## TOPIC: %s", in.Topic)
	return b.String()
}

func writeNode(b *strings.Builder, n *TreeNode, depth int) {
	level := 3 + depth
	if level > 6 {
		level = 6
	}
	fmt.Fprintf(b, "%s %s\n", strings.Repeat("#", level), n.Item.Name)
	if n.Item.Content != nil && strings.TrimSpace(*n.Item.Content) != "" {
		fmt.Fprintf(b, "%s\n", strings.TrimSpace(*n.Item.Content))
	}
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
}

// prettyJSON indents v with sorted keys; nil renders as {}.
func prettyJSON(v models.JSONB) string {
	if v == nil {
		return "{}"
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// cardContent renders a JSON string as plain text and any other JSON value
// indented with sorted keys. Invalid JSON is returned as is.
func cardContent(raw models.RawJSON) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func valueOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
