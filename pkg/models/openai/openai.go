// Package openai implements models.ModelProvider for any endpoint speaking
// the OpenAI chat-completions protocol, including Gemini's compatibility
// layer.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/models"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	// DefaultModel is used when no model name is configured.
	DefaultModel = "gemini-1.5-flash"
)

// Client implements models.ModelProvider over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Ensure Client implements models.ModelProvider
var _ models.ModelProvider = (*Client)(nil)

// New creates a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("missing API key")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   120 * time.Second,
			Transport: &loggingTransport{base: http.DefaultTransport},
		},
	}, nil
}

// List returns available models.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "models", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// Stream sends the conversation to the chat-completions endpoint. The reply
// is requested in one piece; the returned stream yields it as is.
func (c *Client) Stream(ctx context.Context, modelName string, messages []models.AgentMessage, tools []models.ToolSpec) (models.ModelStream, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	slog.Debug("OpenAI.Stream: Request Parameters", "model", modelName, "messageCount", len(messages), "toolCount", len(tools))

	payload := chatRequest{
		Model:    modelName,
		Messages: convertMessages(messages),
		Tools:    convertTools(tools),
	}

	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "chat/completions", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	return &stream{msg: convertReply(out.Choices[0].Message)}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &models.APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type stream struct {
	msg models.AgentMessage
}

func (s *stream) FullMessage() (models.AgentMessage, error) { return s.msg, nil }
func (s *stream) Close() error                              { return nil }

type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !slog.Default().Enabled(req.Context(), models.LevelTrace) {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		clone.Body, _ = req.GetBody()
	}
	clone.Header.Set("Authorization", "Bearer REDACTED")
	if reqDump, err := httputil.DumpRequestOut(clone, true); err == nil {
		slog.Log(req.Context(), models.LevelTrace, "OpenAI REST Request", "url", req.URL.String(), "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		slog.Log(req.Context(), models.LevelTrace, "OpenAI REST Response", "dump", string(respDump))
	}
	return resp, nil
}

// --- wire types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func convertMessages(msgs []models.AgentMessage) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		var text strings.Builder
		var calls []toolCall
		var results []chatMessage

		for _, c := range m.Content {
			switch c.Type {
			case models.ContentTypeText:
				text.WriteString(c.Text.Content)
			case models.ContentTypeToolUse:
				args, err := json.Marshal(c.ToolUse.Input)
				if err != nil || c.ToolUse.Input == nil {
					args = []byte("{}")
				}
				calls = append(calls, toolCall{
					ID:       c.ToolUse.ID,
					Type:     "function",
					Function: functionCall{Name: c.ToolUse.Name, Arguments: string(args)},
				})
			case models.ContentTypeToolResult:
				results = append(results, chatMessage{
					Role:       "tool",
					Content:    c.ToolResult.Content,
					ToolCallID: c.ToolResult.ToolUseID,
					Name:       c.ToolResult.Name,
				})
			}
		}

		switch {
		case len(calls) > 0:
			out = append(out, chatMessage{Role: "assistant", Content: text.String(), ToolCalls: calls})
		case text.Len() > 0 || len(results) == 0:
			out = append(out, chatMessage{Role: role(m.Role), Content: text.String()})
		}
		out = append(out, results...)
	}
	return out
}

func role(r models.MessageRole) string {
	switch r {
	case models.RoleAssistant, models.RoleSystem:
		return string(r)
	default:
		return "user"
	}
}

func convertTools(specs []models.ToolSpec) []chatTool {
	out := make([]chatTool, 0, len(specs))
	for _, s := range specs {
		props := map[string]any{}
		required := []string{}
		for _, p := range s.Params {
			prop := map[string]any{"type": p.Type}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			props[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, chatTool{
			Type: "function",
			Function: functionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}

func convertReply(m chatMessage) models.AgentMessage {
	content := []models.Content{}
	if m.Content != "" {
		content = append(content, models.Text(m.Content))
	}
	for _, call := range m.ToolCalls {
		id := call.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				slog.Warn("Failed to decode tool call arguments", "tool", call.Function.Name, "error", err)
			}
		}
		content = append(content, models.ToolUse(id, call.Function.Name, args))
	}
	return models.AgentMessage{Role: models.RoleAssistant, Content: content}
}
