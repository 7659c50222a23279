// Package session persists conversations and their metrics to a local
// SQLite database so interrupted runs can be resumed and past work searched.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kon-agent/kon/internal/llm"
)

// Status represents the current state of a session.
type Status string

const (
	StatusActive      Status = "active"      // Session is open/current
	StatusComplete    Status = "complete"    // Session finished normally
	StatusError       Status = "error"       // Session ended with an error
	StatusInterrupted Status = "interrupted" // Session was cancelled by user
)

// Session represents a conversation stored in the database.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"` // First user message or auto-generated
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CWD       string    `json:"cwd,omitempty"` // Working directory at session start
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived,omitempty"`

	// Session metrics
	UserTurns         int    `json:"user_turns,omitempty"`   // Number of user messages
	LLMTurns          int    `json:"llm_turns,omitempty"`    // Number of model round-trips
	ToolCalls         int    `json:"tool_calls,omitempty"`   // Total tool executions
	InputTokens       int    `json:"input_tokens,omitempty"` // Total input tokens used
	CachedInputTokens int    `json:"cached_input_tokens,omitempty"`
	OutputTokens      int    `json:"output_tokens,omitempty"`
	Status            Status `json:"status,omitempty"`
	Tags              string `json:"tags,omitempty"` // Comma-separated tags
}

// Message represents a message in a session. The Content field stores the
// full llm.Message.Content as JSON to preserve tool calls and results
// exactly.
type Message struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"session_id"`
	Role        llm.Role      `json:"role"`
	Content     []llm.Content `json:"content"`
	TextContent string        `json:"text_content"` // Extracted text for display/FTS
	CreatedAt   time.Time     `json:"created_at"`
	Sequence    int           `json:"sequence"`
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	MessageCount      int       `json:"message_count"`
	UserTurns         int       `json:"user_turns,omitempty"`
	LLMTurns          int       `json:"llm_turns,omitempty"`
	ToolCalls         int       `json:"tool_calls,omitempty"`
	InputTokens       int       `json:"input_tokens,omitempty"`
	CachedInputTokens int       `json:"cached_input_tokens,omitempty"`
	OutputTokens      int       `json:"output_tokens,omitempty"`
	Status            Status    `json:"status,omitempty"`
	Tags              string    `json:"tags,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ListOptions configures session listing.
type ListOptions struct {
	Provider string // Filter by provider
	Model    string // Filter by model
	Status   Status // Filter by status
	Tag      string // Filter by tag
	Limit    int    // Max results (0 = use default)
	Offset   int    // Pagination offset
	Archived bool   // Include archived sessions
}

// SearchResult represents a full-text search match.
type SearchResult struct {
	SessionID   string    `json:"session_id"`
	MessageID   int64     `json:"message_id"`
	SessionName string    `json:"session_name"`
	Summary     string    `json:"summary"`
	Snippet     string    `json:"snippet"` // Matched text snippet
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a Message from an llm.Message with the given session ID
// and sequence.
func NewMessage(sessionID string, msg llm.Message, sequence int) *Message {
	m := &Message{
		SessionID: sessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: time.Now(),
		Sequence:  sequence,
	}
	m.TextContent = m.ExtractTextContent()
	return m
}

// ExtractTextContent extracts and concatenates the text blocks of the
// message.
func (m *Message) ExtractTextContent() string {
	var text string
	for _, c := range m.Content {
		if c.Type == llm.ContentText && c.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += c.Text
		}
	}
	return text
}

// ToLLMMessage converts a Message back to an llm.Message.
func (m *Message) ToLLMMessage() llm.Message {
	return llm.Message{
		Role:    m.Role,
		Content: m.Content,
	}
}

// ContentJSON returns the Content field serialized for database storage.
func (m *Message) ContentJSON() (string, error) {
	data, err := json.Marshal(m.Content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetContentFromJSON deserializes JSON into the Content field.
func (m *Message) SetContentFromJSON(data string) error {
	if data == "" {
		m.Content = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.Content)
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
