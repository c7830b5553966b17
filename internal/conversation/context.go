// Package conversation holds the message history a session feeds to the
// language model.
//
// A [Context] is owned by the user and assistant aggregators of one pipeline.
// Both append to it and every turn sends a snapshot downstream, so the
// language model stage never sees a slice that is still being modified.
package conversation

import (
	"sync"

	"github.com/MrWong99/talkinghead/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common tokenizers.
const charsPerToken = 4

// DefaultMaxTokens bounds the history when no budget is configured.
const DefaultMaxTokens = 32000

// Context is an ordered, token-bounded list of [llm.Message] values.
//
// System messages are pinned: they are never trimmed. When the estimated size
// exceeds the budget, the oldest non-system messages are dropped until it
// fits again or only the newest message is left.
//
// All methods are safe for concurrent use.
type Context struct {
	maxTokens int

	mu       sync.Mutex
	tokens   int
	messages []llm.Message
}

// New creates a Context limited to roughly maxTokens. Values <= 0 select
// [DefaultMaxTokens].
func New(maxTokens int) *Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Context{maxTokens: maxTokens}
}

// Append adds msgs in order and trims the history if it grew past the budget.
func (c *Context) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.messages = append(c.messages, m)
		c.tokens += estimateTokens(m)
	}
	c.trim()
}

// Set replaces the history with msgs.
func (c *Context) Set(msgs []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]llm.Message(nil), msgs...)
	c.tokens = 0
	for _, m := range c.messages {
		c.tokens += estimateTokens(m)
	}
	c.trim()
}

// Messages returns a copy of the current history.
func (c *Context) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// Len returns the number of messages held.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// TokenEstimate returns the current estimated token count.
func (c *Context) TokenEstimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Reset clears the history.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.tokens = 0
}

// trim must be called with c.mu held.
func (c *Context) trim() {
	for c.tokens > c.maxTokens {
		idx := -1
		for i, m := range c.messages[:len(c.messages)-1] {
			if m.Role != llm.RoleSystem {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		c.tokens -= estimateTokens(c.messages[idx])
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	}
}

// estimateTokens returns a rough token count for a single message using the
// 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
