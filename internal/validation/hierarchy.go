package validation

import (
	"fmt"
	"sort"
	"strings"
)

// ParentLink is one node of a parent-pointer forest. An empty ParentID
// marks a root.
type ParentLink struct {
	ID       string
	ParentID string
}

// CycleResult reports nodes whose parent chain never reaches a root.
type CycleResult struct {
	HasCycle   bool
	CycleNodes []string // sorted
	Message    string
}

// DetectParentCycles runs Kahn's algorithm over parent -> child edges.
// Links to unknown parents are treated as roots and are not cycles.
func DetectParentCycles(links []ParentLink) CycleResult {
	known := make(map[string]bool, len(links))
	for _, l := range links {
		known[l.ID] = true
	}

	inDegree := make(map[string]int, len(links))
	children := make(map[string][]string, len(links))
	for _, l := range links {
		if _, ok := inDegree[l.ID]; !ok {
			inDegree[l.ID] = 0
		}
		if l.ParentID == "" || !known[l.ParentID] {
			continue
		}
		children[l.ParentID] = append(children[l.ParentID], l.ID)
		inDegree[l.ID]++
	}

	queue := make([]string, 0, len(inDegree))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, c := range children[cur] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if processed == len(inDegree) {
		return CycleResult{}
	}

	var cyclic []string
	for id, d := range inDegree {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return CycleResult{
		HasCycle:   true,
		CycleNodes: cyclic,
		Message:    fmt.Sprintf("parent cycle detected involving items: %s", strings.Join(cyclic, ", ")),
	}
}
