package models

import (
	"fmt"
	"strings"
)

// Provider is the closed set of LLM providers a pack may select.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// DefaultProvider is used when a pack leaves default_llm_provider empty.
const DefaultProvider = ProviderOpenAI

// ParseProvider validates s against the provider set. Empty selects the
// default provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return DefaultProvider, nil
	}
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown LLM provider %q (available: openai, anthropic, gemini)", s)
}

// DefaultModel returns the model used when neither the pack nor the brief
// names one.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderGemini:
		return "gemini-1.5-pro"
	default:
		return "gpt-4o"
	}
}

// DetectProvider infers the provider family from a model name. It returns
// false when the name matches no supported family.
func DetectProvider(model string) (Provider, bool) {
	ml := strings.ToLower(strings.TrimSpace(model))
	if ml == "" {
		return "", false
	}

	// OpenAI models
	if strings.HasPrefix(ml, "gpt-") || strings.HasPrefix(ml, "o1") ||
		strings.HasPrefix(ml, "o3") || strings.Contains(ml, "davinci") ||
		strings.Contains(ml, "dall-e") {
		return ProviderOpenAI, true
	}

	// Anthropic models
	if strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku") {
		return ProviderAnthropic, true
	}

	// Google models
	if strings.Contains(ml, "gemini") {
		return ProviderGemini, true
	}

	return "", false
}
