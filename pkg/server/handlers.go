package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/tools"
)

// toolResponse is a dispatched tool call as returned by POST /api/tools/{name}.
type toolResponse struct {
	tools.Result
	// Content is the exact string the oracle would receive.
	Content string `json:"content"`
}

type taskRequest struct {
	Task string `json:"task"`
}

// taskResponse summarizes a finished session.
type taskResponse struct {
	ID         string        `json:"id"`
	State      runner.State  `json:"state"`
	Output     string        `json:"output"`
	Rounds     int           `json:"rounds"`
	Transcript []runner.Step `json:"transcript"`
}

func newTaskResponse(sess *runner.Session) taskResponse {
	return taskResponse{
		ID:         sess.ID,
		State:      sess.State,
		Output:     sess.Output(),
		Rounds:     sess.Rounds,
		Transcript: sess.Transcript,
	}
}

// --- Tools ---

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.dispatcher.Registry().Descriptors())
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := tools.Lookup(name); !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("unknown tool %q", name))
		return
	}

	args := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("failed to decode arguments: %w", err))
			return
		}
	}

	res := s.dispatcher.Dispatch(r.Context(), tools.Invocation{
		ID:   uuid.New().String(),
		Name: name,
		Args: args,
	})
	s.jsonResponse(w, http.StatusOK, toolResponse{Result: res, Content: res.Content()})
}

// --- Tasks ---

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("task is empty"))
		return
	}

	sess := s.runner.Run(r.Context(), req.Task, nil)
	s.jsonResponse(w, http.StatusOK, newTaskResponse(sess))
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.jsonResponse(w, http.StatusOK, []string{})
		return
	}
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
