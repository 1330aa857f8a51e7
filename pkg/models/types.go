package models

// MessageRole defines the role of a message in the conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system" // System instructions (from Agent)
	RoleTool      MessageRole = "tool"   // For tool results
)

// ContentType defines the kind of message content.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// Content represents a single component of a message.
type Content struct {
	Type ContentType `json:"type"`

	// Only one of these will be non-nil
	Text       *TextContent       `json:"text,omitempty"`
	ToolUse    *ToolUseContent    `json:"tool_use,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
}

// TextContent contains literal text.
type TextContent struct {
	Content string `json:"content"`
}

// ToolUseContent represents a call to a tool.
type ToolUseContent struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultContent represents the outcome of a tool call.
type ToolResultContent struct {
	ToolUseID string `json:"tool_use_id"`
	// Name is the tool that produced the result. Some providers need it to
	// match results to calls.
	Name    string `json:"name,omitempty"`
	IsError bool   `json:"is_error"`
	Content string `json:"content"`
}

// Text builds a text content part.
func Text(s string) Content {
	return Content{Type: ContentTypeText, Text: &TextContent{Content: s}}
}

// ToolUse builds a tool call content part.
func ToolUse(id, name string, input map[string]any) Content {
	return Content{Type: ContentTypeToolUse, ToolUse: &ToolUseContent{ID: id, Name: name, Input: input}}
}

// ToolResult builds a tool result content part.
func ToolResult(id, name, content string, isError bool) Content {
	return Content{Type: ContentTypeToolResult, ToolResult: &ToolResultContent{
		ToolUseID: id,
		Name:      name,
		Content:   content,
		IsError:   isError,
	}}
}
