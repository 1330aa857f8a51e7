package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is a custom log level for detailed HTTP traffic.
const LevelTrace = slog.Level(-8)

// AgentMessage represents a message in the agent's context.
type AgentMessage struct {
	// Role indicates the sender of the message (e.g., user, assistant).
	Role MessageRole `json:"role"`
	// Content holds the key content parts of the message.
	Content []Content `json:"content"`
}

// TextOf joins every text part of the message.
func (m AgentMessage) TextOf() string {
	var sb strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentTypeText && c.Text != nil {
			sb.WriteString(c.Text.Content)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool_use parts of the message in order.
func (m AgentMessage) ToolCalls() []*ToolUseContent {
	var calls []*ToolUseContent
	for _, c := range m.Content {
		if c.Type == ContentTypeToolUse && c.ToolUse != nil {
			calls = append(calls, c.ToolUse)
		}
	}
	return calls
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolParam describes one named argument of a tool.
type ToolParam struct {
	Name        string
	Type        string // JSON Schema type, e.g. "string"
	Description string
	Required    bool
	Default     any
}

// ModelProvider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type ModelProvider interface {
	// List returns the names of available models.
	List(ctx context.Context) ([]string, error)

	// Stream sends a context to the LLM and returns a stream of events/messages.
	// tools lists what the model may call; it may be empty.
	Stream(ctx context.Context, modelName string, messages []AgentMessage, tools []ToolSpec) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the full message is available.
	FullMessage() (AgentMessage, error)
	Close() error
}

// APIError is returned by providers when the remote API rejects a request.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
