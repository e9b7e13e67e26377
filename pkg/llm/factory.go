// Package llm constructs agent.LLMClient implementations from provider
// configuration.
package llm

import (
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/llm/anthropic"
	"github.com/kestrelhq/kestrel/pkg/llm/openai"
)

// NewClient builds the SDK adapter for a provider configuration.
func NewClient(cfg *config.LLMProviderConfig) (agent.LLMClient, error) {
	switch cfg.Backend {
	case config.BackendAnthropic:
		return anthropic.NewFromConfig(cfg)
	case config.BackendOpenAI:
		return openai.NewFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm backend %q", cfg.Backend)
	}
}

// Pool holds one client per configured provider so sessions share
// connections.
type Pool struct {
	clients map[string]agent.LLMClient
}

// NewPool builds clients for every provider name in the registry.
func NewPool(registry *config.LLMProviderRegistry) (*Pool, error) {
	p := &Pool{clients: make(map[string]agent.LLMClient)}
	for _, name := range registry.Names() {
		cfg, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		client, err := NewClient(cfg)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("building llm client %q: %w", name, err)
		}
		p.clients[name] = client
	}
	return p, nil
}

// Get returns the client for a provider name.
func (p *Pool) Get(name string) (agent.LLMClient, error) {
	c, ok := p.clients[name]
	if !ok {
		return nil, fmt.Errorf("no llm client for provider %q", name)
	}
	return c, nil
}

// Close releases every client.
func (p *Pool) Close() {
	for _, c := range p.clients {
		_ = c.Close()
	}
}
