package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for budget pressure tracking when a
// provider does not report usage. Estimates use the cl100k_base encoding;
// if the encoding cannot be loaded a chars/4 approximation is used instead.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter. Encoding load is deferred to first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count estimates the token count of text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// CountMessages estimates the total token count of a conversation.
func (c *TokenCounter) CountMessages(msgs []ConversationMessage) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Arguments)
		}
	}
	return total
}
