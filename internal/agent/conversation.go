package agent

import (
	"fmt"

	"github.com/kon-agent/kon/internal/llm"
)

// Conversation is the ordered message log sent to the provider. The system
// prompt lives outside it (assembled per request), so every entry here is a
// user, assistant, or tool-result message.
//
// Only the loop mutates a Conversation, and only between turns: appends for
// prompts and turn output, ReplaceRange for compaction. No locking needed
// under that single-writer discipline.
type Conversation struct {
	messages []llm.Message
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(msgs ...llm.Message) {
	c.messages = append(c.messages, msgs...)
}

func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a copy so callers cannot alias the loop's log.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Truncate discards everything from index n onward. Used by cancellation to
// rewind to the last consistent point.
func (c *Conversation) Truncate(n int) {
	if n < 0 || n > len(c.messages) {
		return
	}
	c.messages = c.messages[:n]
}

// ReplaceRange atomically replaces messages[start:end] with the given
// replacements. Either the whole replacement commits or the log is left
// unchanged.
func (c *Conversation) ReplaceRange(start, end int, replacements ...llm.Message) error {
	if start < 0 || end > len(c.messages) || start > end {
		return fmt.Errorf("replace range [%d:%d) out of bounds for %d messages", start, end, len(c.messages))
	}
	next := make([]llm.Message, 0, len(c.messages)-(end-start)+len(replacements))
	next = append(next, c.messages[:start]...)
	next = append(next, replacements...)
	next = append(next, c.messages[end:]...)
	c.messages = next
	return nil
}
