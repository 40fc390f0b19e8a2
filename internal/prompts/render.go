package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

var (
	errUnresolved = errors.New("unresolved template variable")
	errSyntax     = errors.New("template syntax error")
)

// AgentOutput is what a template sees for one finished step.
type AgentOutput struct {
	Name   string
	Output string
}

// AgentOutputs holds finished step outputs in execution order. Each output
// is reachable by its zero-based index, its name and its name with spaces
// replaced by underscores.
type AgentOutputs struct {
	order []AgentOutput
	byKey map[string]int
	names map[string]bool
}

func NewAgentOutputs() *AgentOutputs {
	return &AgentOutputs{byKey: make(map[string]int), names: make(map[string]bool)}
}

// Add records the output of the next step. A name can be added once.
func (a *AgentOutputs) Add(name, output string) error {
	if a.names[name] {
		return fmt.Errorf("agent %q already produced an output", name)
	}
	a.names[name] = true
	idx := len(a.order)
	a.order = append(a.order, AgentOutput{Name: name, Output: output})
	a.byKey[strconv.Itoa(idx)] = idx
	a.byKey[name] = idx
	if alias := strings.ReplaceAll(name, " ", "_"); alias != name {
		if _, taken := a.byKey[alias]; !taken {
			a.byKey[alias] = idx
		}
	}
	return nil
}

// Get resolves any of the three key forms.
func (a *AgentOutputs) Get(key string) (AgentOutput, bool) {
	if a == nil {
		return AgentOutput{}, false
	}
	idx, ok := a.byKey[key]
	if !ok {
		return AgentOutput{}, false
	}
	return a.order[idx], true
}

func (a *AgentOutputs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.order)
}

// Ordered returns the outputs in execution order.
func (a *AgentOutputs) Ordered() []AgentOutput {
	if a == nil {
		return nil
	}
	return append([]AgentOutput(nil), a.order...)
}

// Map returns name -> output.
func (a *AgentOutputs) Map() map[string]string {
	m := make(map[string]string, a.Len())
	for _, o := range a.Ordered() {
		m[o.Name] = o.Output
	}
	return m
}

// Last returns the most recent output.
func (a *AgentOutputs) Last() (AgentOutput, bool) {
	if a.Len() == 0 {
		return AgentOutput{}, false
	}
	return a.order[len(a.order)-1], true
}

// Variables is the namespace a template is rendered against.
type Variables struct {
	InputData models.JSONB
	Topic     string
	Context   *models.Context
	Brief     *models.BriefSettings
	Agents    *AgentOutputs
}

func (v Variables) namespace() map[string]interface{} {
	ns := make(map[string]interface{}, len(v.InputData)+4)
	for k, val := range v.InputData {
		ns[k] = val
	}
	ns["topic"] = v.Topic
	if c := v.Context; c != nil {
		ns["context"] = map[string]interface{}{
			"brand":    c.BrandName,
			"industry": valueOr(c.Industry, ""),
			"audience": object(c.AudienceInfo),
			"voice":    object(c.VoiceInfo),
			"company":  object(c.CompanyInfo),
			"goals":    object(c.GoalsInfo),
		}
	}
	if v.Brief != nil {
		ns["brief"] = v.Brief
	}
	if v.Agents != nil {
		ns["agent"] = v.Agents
	}
	return ns
}

// object renders an unset JSONB column as {} rather than null.
func object(j models.JSONB) map[string]interface{} {
	if j == nil {
		return map[string]interface{}{}
	}
	return j
}

// RenderAgentPrompt substitutes {{ path }} placeholders. Paths use dots or
// quoted brackets: {{agent.Researcher.output}}, {{agent["0"].output}}. Any
// unresolved variable or malformed tag yields the raw template unchanged.
func RenderAgentPrompt(template string, vars Variables) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	if err := checkSyntax(template); err != nil {
		return template
	}
	ns := vars.namespace()
	out, err := fasttemplate.ExecuteFuncStringWithErr(template, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		path, err := parsePath(tag)
		if err != nil {
			return 0, err
		}
		val, ok := lookup(ns, path)
		if !ok {
			return 0, fmt.Errorf("%w: %s", errUnresolved, strings.TrimSpace(tag))
		}
		return w.Write([]byte(format(val)))
	})
	if err != nil {
		return template
	}
	return out
}

// checkSyntax rejects unbalanced delimiters and block tags this renderer
// does not evaluate.
func checkSyntax(t string) error {
	if strings.Count(t, "{{") > strings.Count(t, "}}") {
		return errSyntax
	}
	if strings.Contains(t, "{%") {
		return errSyntax
	}
	return nil
}

// parsePath splits `agent["0"].output` into [agent 0 output].
func parsePath(tag string) ([]string, error) {
	s := strings.TrimSpace(tag)
	if s == "" {
		return nil, errSyntax
	}
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, errSyntax
			}
			key := strings.TrimSpace(s[i+1 : i+end])
			key = strings.Trim(key, `"'`)
			if key == "" {
				return nil, errSyntax
			}
			parts = append(parts, key)
			i += end
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	if len(parts) == 0 {
		return nil, errSyntax
	}
	return parts, nil
}

func lookup(root map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = root
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case models.JSONB:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case *AgentOutputs:
			v, ok := node.Get(key)
			if !ok {
				return nil, false
			}
			cur = v
		case AgentOutput:
			switch key {
			case "output":
				cur = node.Output
			case "name":
				cur = node.Name
			default:
				return nil, false
			}
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case *models.BriefSettings:
			switch key {
			case "global_instructions":
				cur = valueOr(node.GlobalInstructions, "")
			case "agent_overrides":
				raw, _ := json.Marshal(node.AgentOverrides)
				var m map[string]interface{}
				_ = json.Unmarshal(raw, &m)
				cur = m
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func format(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case AgentOutput:
		return t.Output
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case fmt.Stringer:
		return t.String()
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}
