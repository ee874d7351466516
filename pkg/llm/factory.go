package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderClaude     Provider = "claude"
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderXAI        Provider = "xai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
)

// ProviderDefaults describes how to reach a provider when nothing is configured.
type ProviderDefaults struct {
	BaseURL string
	Model   string
	// KeyEnv is empty for providers that need no key.
	KeyEnv string
	// ModelEnv optionally overrides Model.
	ModelEnv string
}

var providers = map[Provider]ProviderDefaults{
	ProviderClaude:     {Model: defaultClaudeModel, KeyEnv: "ANTHROPIC_API_KEY", ModelEnv: "CLAUDE_MODEL"},
	ProviderOpenAI:     {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", KeyEnv: "OPENAI_API_KEY", ModelEnv: "OPENAI_MODEL"},
	ProviderGemini:     {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", Model: "gemini-2.5-flash", KeyEnv: "GEMINI_API_KEY"},
	ProviderXAI:        {BaseURL: "https://api.x.ai/v1", Model: "grok-beta", KeyEnv: "XAI_API_KEY"},
	ProviderOpenRouter: {BaseURL: "https://openrouter.ai/api/v1", Model: "openai/gpt-4o-mini", KeyEnv: "OPENROUTER_API_KEY"},
	ProviderOllama:     {BaseURL: "http://localhost:11434/v1", Model: "llama3.2"},
}

// Defaults returns the table entry for p.
func Defaults(p Provider) (ProviderDefaults, bool) {
	d, ok := providers[p]
	return d, ok
}

// Config selects and configures a provider. Empty fields fall back to the
// provider table and environment.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Factory creates LLM instances based on provider
type Factory struct {
	getenv func(string) string
}

// NewFactory creates a new LLM factory
func NewFactory() *Factory {
	return &Factory{getenv: os.Getenv}
}

// CreateLLM resolves cfg against the provider table and builds the backend.
func (f *Factory) CreateLLM(cfg Config) (LLM, error) {
	name := Provider(strings.ToLower(strings.TrimSpace(cfg.Provider)))
	if name == "" {
		name = Provider(strings.ToLower(f.getenv("LLM_PROVIDER")))
	}
	if name == "" {
		name = ProviderClaude
	}
	def, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: %s)", name, supportedList())
	}

	apiKey := cfg.APIKey
	if apiKey == "" && def.KeyEnv != "" {
		apiKey = f.getenv(def.KeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable not set", def.KeyEnv)
		}
	}
	model := cfg.Model
	if model == "" && def.ModelEnv != "" {
		model = f.getenv(def.ModelEnv)
	}
	if model == "" {
		model = def.Model
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = def.BaseURL
	}

	if name == ProviderClaude {
		return newClaude(apiKey, model, cfg.BaseURL), nil
	}
	return NewOpenAICompatible(name, apiKey, model, baseURL), nil
}

// GetAvailableProviders returns a list of available LLM providers
func (f *Factory) GetAvailableProviders() []Provider {
	out := make([]Provider, 0, len(providers))
	for p := range providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func supportedList() string {
	var names []string
	for _, p := range NewFactory().GetAvailableProviders() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
