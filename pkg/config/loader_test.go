package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
defaults:
  lead_provider: lead
  subagent_provider: worker
  max_concurrent: 3
  budgets:
    light: 2

llm_providers:
  lead:
    backend: anthropic
    model: claude-sonnet-4-5
    api_key_env: ANTHROPIC_API_KEY
  worker:
    backend: openai
    model: gpt-4.1-mini
    api_key_env: OPENAI_API_KEY
    max_tokens: 4096
`

func TestLoad(t *testing.T) {
	t.Run("valid config with defaults merged", func(t *testing.T) {
		cfg, err := Load([]byte(validYAML))
		require.NoError(t, err)

		// User values win.
		assert.Equal(t, "lead", cfg.Defaults.LeadProvider)
		assert.Equal(t, 3, cfg.Defaults.MaxConcurrent)
		assert.Equal(t, 2, cfg.Defaults.Budgets.Light)

		// Built-in defaults fill in the rest.
		assert.Equal(t, 20, cfg.Defaults.MaxSubagents)
		assert.Equal(t, 5, cfg.Defaults.MaxRounds)
		assert.Equal(t, 10, cfg.Defaults.Budgets.Medium)
		assert.Equal(t, 15, cfg.Defaults.Budgets.Heavy)
		assert.Equal(t, CitationStyleNumeric, cfg.Defaults.CitationStyle)
		assert.Equal(t, "brave", cfg.Search.Backend)
		assert.Equal(t, 4, cfg.Queue.WorkerCount)
	})

	t.Run("citation provider falls back to subagent provider", func(t *testing.T) {
		cfg, err := Load([]byte(validYAML))
		require.NoError(t, err)
		assert.Equal(t, "worker", cfg.Defaults.CitationProvider)
	})

	t.Run("provider lookup returns a copy", func(t *testing.T) {
		cfg, err := Load([]byte(validYAML))
		require.NoError(t, err)

		p1, err := cfg.GetLLMProvider("worker")
		require.NoError(t, err)
		p1.Model = "mutated"

		p2, err := cfg.GetLLMProvider("worker")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1-mini", p2.Model)
	})

	t.Run("unknown provider reference fails validation", func(t *testing.T) {
		bad := `
defaults:
  lead_provider: missing
  subagent_provider: worker
llm_providers:
  worker:
    backend: openai
    model: gpt-4.1-mini
    api_key_env: OPENAI_API_KEY
`
		_, err := Load([]byte(bad))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		bad := `
defaults:
  lead_provider: lead
  subagent_provider: lead
llm_providers:
  lead:
    backend: bedrock
    model: something
    api_key_env: KEY
`
		_, err := Load([]byte(bad))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownEnumValue)
	})

	t.Run("max_concurrent above max_subagents rejected", func(t *testing.T) {
		bad := `
defaults:
  lead_provider: lead
  subagent_provider: lead
  max_subagents: 2
  max_concurrent: 5
llm_providers:
  lead:
    backend: anthropic
    model: claude-sonnet-4-5
    api_key_env: ANTHROPIC_API_KEY
`
		_, err := Load([]byte(bad))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load([]byte("defaults: [not: a map"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfigParse)
	})
}

func TestInitialize(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Initialize(context.Background(), t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("loads from directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ConfigFileName)
		require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

		cfg, err := Initialize(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, dir, cfg.ConfigDir())
	})
}

func TestDurations(t *testing.T) {
	cfg, err := Load([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "30m0s", cfg.Defaults.SessionDeadline().String())
	assert.Equal(t, "5m0s", cfg.Defaults.SubagentDeadline().String())
	assert.Equal(t, "30s", cfg.Defaults.ToolDeadline().String())
	assert.Equal(t, "2s", cfg.Queue.PollEvery().String())
}
