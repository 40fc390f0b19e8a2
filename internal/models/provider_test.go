package models

import (
	"testing"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected Provider
		found    bool
	}{
		{"OpenAI GPT-4o", "gpt-4o", ProviderOpenAI, true},
		{"OpenAI mini", "gpt-4o-mini", ProviderOpenAI, true},
		{"OpenAI o1", "o1-preview", ProviderOpenAI, true},
		{"Anthropic Sonnet", "claude-sonnet-4-20250514", ProviderAnthropic, true},
		{"Anthropic Haiku", "claude-3-5-haiku-20241022", ProviderAnthropic, true},
		{"Google Gemini Pro", "gemini-1.5-pro", ProviderGemini, true},
		{"Google Gemini Flash", "GEMINI-1.5-FLASH", ProviderGemini, true},
		{"Unknown", "mistral-large", "", false},
		{"Empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectProvider(tt.model)
			if ok != tt.found || got != tt.expected {
				t.Errorf("DetectProvider(%q) = %q,%v; want %q,%v", tt.model, got, ok, tt.expected, tt.found)
			}
		})
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("")
	if err != nil || p != ProviderOpenAI {
		t.Fatalf("empty provider should default to openai, got %q err=%v", p, err)
	}
	p, err = ParseProvider(" Anthropic ")
	if err != nil || p != ProviderAnthropic {
		t.Fatalf("expected anthropic, got %q err=%v", p, err)
	}
	if _, err := ParseProvider("cohere"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestDefaultModel(t *testing.T) {
	cases := map[Provider]string{
		ProviderOpenAI:    "gpt-4o",
		ProviderAnthropic: "claude-sonnet-4-20250514",
		ProviderGemini:    "gemini-1.5-pro",
	}
	for p, want := range cases {
		if got := p.DefaultModel(); got != want {
			t.Errorf("%s.DefaultModel() = %q, want %q", p, got, want)
		}
	}
}

func TestTemplateFor(t *testing.T) {
	pack := &AgentPack{PromptTemplates: StringMap{"Writer": "Legacy writer prompt"}}

	if got := pack.TemplateFor(Agent{Name: "Researcher", Role: "researcher", Prompt: "Research {{topic}}"}); got != "Research {{topic}}" {
		t.Errorf("embedded prompt not preferred: %q", got)
	}
	if got := pack.TemplateFor(Agent{Name: "Writer", Role: "writer"}); got != "Legacy writer prompt" {
		t.Errorf("legacy template not used: %q", got)
	}
	if got := pack.TemplateFor(Agent{Name: "Editor", Role: "copy editor"}); got != "You are a copy editor." {
		t.Errorf("role fallback mismatch: %q", got)
	}
}

func TestAgentsDuplicateName(t *testing.T) {
	if name, dup := (Agents{{Name: "A"}, {Name: "B"}, {Name: "A"}}).DuplicateName(); !dup || name != "A" {
		t.Errorf("DuplicateName = %q, %v; want \"A\", true", name, dup)
	}
	if name, dup := (Agents{{Name: "A"}, {Name: "a"}}).DuplicateName(); dup {
		t.Errorf("names differ only in case, got duplicate %q", name)
	}
}

func TestBriefSettingsScan(t *testing.T) {
	var s BriefSettings
	raw := []byte(`{"agent_overrides":{"Writer":{"prompt_append":"Be brief","temperature":0.2}},"global_instructions":"Use British English"}`)
	if err := s.Scan(raw); err != nil {
		t.Fatalf("scan: %v", err)
	}
	o, ok := s.Override("Writer")
	if !ok || o.PromptAppend == nil || *o.PromptAppend != "Be brief" {
		t.Fatalf("override not decoded: %+v", o)
	}
	if o.Temperature == nil || *o.Temperature != 0.2 {
		t.Fatalf("temperature not decoded: %+v", o.Temperature)
	}
	if s.GlobalInstructions == nil || *s.GlobalInstructions != "Use British English" {
		t.Fatalf("global instructions not decoded")
	}

	var empty BriefSettings
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("nil scan: %v", err)
	}
	if _, ok := empty.Override("Writer"); ok {
		t.Fatal("nil settings must have no overrides")
	}
}

func TestCardLabel(t *testing.T) {
	if CardBrandVoice.Label() != "Brand Voice" {
		t.Errorf("unexpected label %q", CardBrandVoice.Label())
	}
	if CardType("custom").Label() != "custom" {
		t.Errorf("unknown card type should be returned verbatim")
	}
}
