// Package server exposes the tools and task sessions over HTTP and
// websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/tools"
)

// Server serves the tool and task API.
type Server struct {
	runner     *runner.Runner
	dispatcher *tools.Dispatcher
	provider   models.ModelProvider
	origins    []string
	upgrader   websocket.Upgrader
	srv        *http.Server
}

// New creates a new Server. Tool calls go through the runner's dispatcher.
// Browsers may call the API from the server's own host and from
// allowedOrigins; requests from any other Origin are refused.
func New(r *runner.Runner, provider models.ModelProvider, allowedOrigins ...string) *Server {
	s := &Server{
		runner:     r,
		dispatcher: r.Dispatcher(),
		provider:   provider,
		origins:    allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Tools
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/{name}", s.requireJSON(s.handleCallTool))

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.requireJSON(s.handleRunTask))
	mux.HandleFunc("GET /api/tasks/ws", s.handleTaskWebSocket)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	return s.corsMiddleware(mux)
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting web server", "addr", addr, "root", s.dispatcher.Registry().Root())
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware refuses requests from foreign origins before they reach a
// handler and echoes allowed origins back.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.originAllowed(r) {
			s.errorResponse(w, http.StatusForbidden, fmt.Errorf("origin %q is not allowed", r.Header.Get("Origin")))
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed admits requests without an Origin (non-browser clients),
// same-host origins and the configured list.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host != "" && u.Host == r.Host
}

// requireJSON rejects bodies that are not declared as JSON.
func (s *Server) requireJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			s.errorResponse(w, http.StatusUnsupportedMediaType, errors.New("Content-Type must be application/json"))
			return
		}
		next(w, r)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
