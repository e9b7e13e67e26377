// Package openai implements agent.LLMClient on top of the OpenAI Chat
// Completions streaming API (and any OpenAI-compatible endpoint via
// base_url).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/config"
)

// Client implements agent.LLMClient via OpenAI Chat Completions.
type Client struct {
	chat *openai.Client
}

// NewFromConfig constructs a client from a provider configuration,
// resolving the API key from the environment.
func NewFromConfig(cfg *config.LLMProviderConfig) (*Client, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	transportCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		transportCfg.BaseURL = cfg.BaseURL
	}
	return &Client{chat: openai.NewClientWithConfig(transportCfg)}, nil
}

// Generate implements agent.LLMClient.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	req, err := encodeRequest(input)
	if err != nil {
		return nil, err
	}

	stream, err := c.chat.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}

	out := make(chan agent.Chunk, 32)
	go pump(ctx, stream, out)
	return out, nil
}

// Close implements agent.LLMClient.
func (c *Client) Close() error { return nil }

func encodeRequest(input *agent.GenerateInput) (*openai.ChatCompletionRequest, error) {
	if len(input.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	cfg := input.Config
	if cfg == nil || cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	req := openai.ChatCompletionRequest{
		Model:         cfg.Model,
		Messages:      encodeMessages(input.Messages),
		Tools:         encodeTools(input.Tools),
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		req.Temperature = float32(*cfg.Temperature)
	}
	return &req, nil
}

func encodeMessages(msgs []agent.ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case agent.RoleSystem:
			msg.Role = openai.ChatMessageRoleSystem
		case agent.RoleUser:
			msg.Role = openai.ChatMessageRoleUser
		case agent.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case agent.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		default:
			continue
		}
		out = append(out, msg)
	}
	return out
}

func encodeTools(defs []agent.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  rawSchema(def.ParametersSchema),
			},
		})
	}
	return out
}

type rawSchema string

func (r rawSchema) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte("{}"), nil
	}
	return []byte(r), nil
}

// pendingCall accumulates streamed tool call fragments for one index.
type pendingCall struct {
	index int
	id    string
	name  string
	args  string
}

// pump reads streamed completion deltas and converts them into agent
// chunks. Tool calls arrive fragmented across deltas keyed by index; they
// are flushed in index order once the stream finishes the message.
func pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.Chunk) {
	defer close(out)
	defer func() { _ = stream.Close() }()

	emit := func(c agent.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pending := make(map[int]*pendingCall)

	flush := func() bool {
		calls := make([]*pendingCall, 0, len(pending))
		for _, pc := range pending {
			calls = append(calls, pc)
		}
		sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })
		for _, pc := range calls {
			args := pc.args
			if args == "" {
				args = "{}"
			}
			if !emit(&agent.ToolCallChunk{CallID: pc.id, Name: pc.name, Arguments: args}) {
				return false
			}
		}
		pending = make(map[int]*pendingCall)
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			return
		}
		if err != nil {
			emit(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
			return
		}

		if resp.Usage != nil {
			if !emit(&agent.UsageChunk{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}) {
				return
			}
		}

		for _, choice := range resp.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				if !emit(&agent.TextChunk{Content: delta.Content}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc := pending[idx]
				if pc == nil {
					pc = &pendingCall{index: idx}
					pending[idx] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !flush() {
					return
				}
			}
		}
	}
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
