package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/kestrelhq/kestrel/pkg/agent"
)

// toolBuffer accumulates streamed tool call JSON fragments for one
// content block index.
type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

// pump reads SSE events and converts them into agent chunks. Errors are
// delivered as ErrorChunk values; the channel is always closed on return.
func pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- agent.Chunk) {
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

	toolBlocks := make(map[int]*toolBuffer)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			}

		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					if !emit(&agent.TextChunk{Content: delta.Text}) {
						return
					}
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}

		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[int(ev.Index)]; tb != nil {
				delete(toolBlocks, int(ev.Index))
				if !emit(&agent.ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: tb.finalInput()}) {
					return
				}
			}

		case sdk.MessageDeltaEvent:
			usage := &agent.UsageChunk{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
			if !emit(usage) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
	} else if err := ctx.Err(); err != nil {
		emit(&agent.ErrorChunk{Message: err.Error(), Code: "cancelled"})
	}
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit")
}
