package config

import (
	"fmt"
	"os"
)

// LLMProviderConfig describes a single named LLM provider entry.
type LLMProviderConfig struct {
	Backend   LLMBackend `yaml:"backend"`
	Model     string     `yaml:"model"`
	APIKeyEnv string     `yaml:"api_key_env"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// BaseURL overrides the SDK endpoint (tests, gateways).
	BaseURL string `yaml:"base_url,omitempty"`
}

// APIKey resolves the provider's API key from the environment.
func (p *LLMProviderConfig) APIKey() (string, error) {
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrInvalidConfig, p.APIKeyEnv)
	}
	return key, nil
}

// Validate checks required fields.
func (p *LLMProviderConfig) Validate(name string) error {
	if err := p.Backend.Validate(); err != nil {
		return fmt.Errorf("provider %q: %w", name, err)
	}
	if p.Model == "" {
		return fmt.Errorf("%w: provider %q has no model", ErrInvalidConfig, name)
	}
	if p.APIKeyEnv == "" {
		return fmt.Errorf("%w: provider %q has no api_key_env", ErrInvalidConfig, name)
	}
	return nil
}

// LLMProviderRegistry holds all configured LLM providers by name.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
}

// NewLLMProviderRegistry builds a registry from the parsed provider map.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	m := make(map[string]*LLMProviderConfig, len(providers))
	for name, p := range providers {
		cp := *p
		m[name] = &cp
	}
	return &LLMProviderRegistry{providers: m}
}

// Get retrieves a provider configuration by name. The returned value is a
// copy so callers cannot mutate registry state.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	cp := *p
	return &cp, nil
}

// Names returns all configured provider names.
func (r *LLMProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
