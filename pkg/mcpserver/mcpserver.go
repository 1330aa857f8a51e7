// Package mcpserver exposes the sandbox tools to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcpgo "github.com/felixgeelhaar/mcp-go"
	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/tools"
)

const instructions = `Tools operate on a single project directory. Paths are relative to it;
paths outside it are answered with "Access denied.". run_command executes in the
project directory with a timeout.`

// Server serves the dispatcher's tools over MCP.
type Server struct {
	srv        *mcpgo.Server
	dispatcher *tools.Dispatcher
}

// New registers every tool of d on a new MCP server.
func New(d *tools.Dispatcher, version string) *Server {
	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:        "devcli",
		Version:     version,
		Description: "Contained file and command tools rooted at " + d.Registry().Root(),
		Capabilities: mcpgo.Capabilities{
			Tools: true,
		},
	}, mcpgo.WithInstructions(instructions))

	s := &Server{srv: srv, dispatcher: d}
	for _, desc := range d.Registry().Descriptors() {
		srv.Tool(desc.Name).
			Description(desc.Description).
			ValidateInput().
			Handler(s.handler(desc.Name))
	}
	return s
}

// ServeStdio serves requests on stdin/stdout until ctx is done.
func (s *Server) ServeStdio(ctx context.Context) error {
	slog.Info("Serving MCP over stdio", "root", s.dispatcher.Registry().Root())
	return mcpgo.ServeStdio(ctx, s.srv)
}

// handler returns a handler typed by the tool's argument struct; the MCP
// server derives the advertised input schema from that type.
func (s *Server) handler(name string) any {
	t, _ := tools.Lookup(name)
	switch t {
	case tools.ReadFile:
		return typed[tools.ReadFileArgs](s, name)
	case tools.WriteFile:
		return typed[tools.WriteFileArgs](s, name)
	case tools.DeleteFile:
		return typed[tools.DeleteFileArgs](s, name)
	case tools.ListFiles:
		return typed[tools.ListFilesArgs](s, name)
	case tools.RunCommand:
		return typed[tools.RunCommandArgs](s, name)
	}
	panic(fmt.Sprintf("mcpserver: no argument type for tool %q", name))
}

func typed[T any](s *Server, name string) func(ctx context.Context, args T) (string, error) {
	return func(ctx context.Context, args T) (string, error) {
		input, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("failed to encode arguments for %s: %w", name, err)
		}
		return s.call(ctx, name, input)
	}
}

// call dispatches one MCP tool call. Tool failures are returned as errors so
// the client sees them flagged, with the same text the oracle would get.
func (s *Server) call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	args := map[string]any{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("Error: invalid arguments for %s: %v", name, err)
		}
	}

	res := s.dispatcher.Dispatch(ctx, tools.Invocation{
		ID:   uuid.New().String(),
		Name: name,
		Args: args,
	})
	if res.IsError() {
		return "", errors.New(res.Content())
	}
	return res.Content(), nil
}
