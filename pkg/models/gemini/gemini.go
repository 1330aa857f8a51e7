package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/models"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiModel implements models.ModelProvider using the native Google Gemini API.
type GeminiModel struct {
	client *genai.Client
}

// Ensure GeminiModel implements models.ModelProvider
var _ models.ModelProvider = (*GeminiModel)(nil)

// New creates a new GeminiModel.
func New(ctx context.Context, apiKey string) (*GeminiModel, error) {
	httpClient := &http.Client{
		Transport: &loggingTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiModel{client: client}, nil
}

type loggingTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A custom http.Client bypasses the library's own key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	if !slog.Default().Enabled(req.Context(), models.LevelTrace) {
		return t.base.RoundTrip(req)
	}

	redacted := req.Clone(req.Context())
	redacted.Header.Set("x-goog-api-key", "REDACTED")
	if req.GetBody != nil {
		redacted.Body, _ = req.GetBody()
	}
	reqDump, err := httputil.DumpRequestOut(redacted, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Log(req.Context(), models.LevelTrace, "Gemini REST Request", "url", req.URL.Path, "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Streaming bodies are not dumped; reading them here would block.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Log(req.Context(), models.LevelTrace, "Gemini REST Response", "isStream", isStream, "dump", string(respDump))
	}

	return resp, nil
}

// Close releases resources.
func (m *GeminiModel) Close() error {
	return m.client.Close()
}

// List returns available models.
func (m *GeminiModel) List(ctx context.Context) ([]string, error) {
	iter := m.client.ListModels(ctx)
	var names []string
	for {
		model, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("Found Gemini model", "name", model.Name)
		names = append(names, model.Name)
	}
	return names, nil
}

// Stream sends a context to the LLM and returns a stream.
func (m *GeminiModel) Stream(ctx context.Context, modelName string, messages []models.AgentMessage, tools []models.ToolSpec) (models.ModelStream, error) {
	slog.Debug("Gemini.Stream: Request Parameters", "model", modelName, "messageCount", len(messages), "toolCount", len(tools))
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	gm := m.client.GenerativeModel(modelName)
	if decls := functionDeclarations(tools); len(decls) > 0 {
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	system, history := convertHistory(messages)
	if system != nil {
		gm.SystemInstruction = system
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no user or model content to send")
	}

	cs := gm.StartChat()
	cs.History = history[:len(history)-1]
	last := history[len(history)-1]

	iter := cs.SendMessageStream(ctx, last.Parts...)
	return &geminiStream{iter: iter}, nil
}

// convertHistory splits system messages out into a single instruction and
// converts the rest to genai contents.
func convertHistory(messages []models.AgentMessage) (*genai.Content, []*genai.Content) {
	var system []genai.Part
	var history []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if text := msg.TextOf(); text != "" {
				system = append(system, genai.Text(text))
			}
			continue
		}

		var parts []genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case models.ContentTypeText:
				parts = append(parts, genai.Text(c.Text.Content))
			case models.ContentTypeToolUse:
				parts = append(parts, genai.FunctionCall{
					Name: c.ToolUse.Name,
					Args: c.ToolUse.Input,
				})
			case models.ContentTypeToolResult:
				parts = append(parts, genai.FunctionResponse{
					Name: c.ToolResult.Name,
					Response: map[string]any{
						"result": c.ToolResult.Content,
					},
				})
			}
		}

		// Function responses are sent from the user side.
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}

		if len(parts) > 0 {
			history = append(history, &genai.Content{Role: role, Parts: parts})
		}
	}

	if len(system) == 0 {
		return nil, history
	}
	return &genai.Content{Parts: system}, history
}

func functionDeclarations(tools []models.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		}
		for _, p := range t.Params {
			params.Properties[p.Name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (s *geminiStream) FullMessage() (models.AgentMessage, error) {
	var fullText strings.Builder
	var toolCalls []models.Content

	slog.Debug("Aggregating Gemini response stream")

	for {
		resp, err := s.iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return models.AgentMessage{}, err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					fullText.WriteString(string(p))
				case genai.FunctionCall:
					toolCalls = append(toolCalls, models.ToolUse("call-"+uuid.New().String(), p.Name, p.Args))
				}
			}
		}
	}

	content := []models.Content{}
	if fullText.Len() > 0 {
		content = append(content, models.Text(fullText.String()))
	}
	content = append(content, toolCalls...)

	return models.AgentMessage{Role: models.RoleAssistant, Content: content}, nil
}

func (s *geminiStream) Close() error {
	return nil
}
