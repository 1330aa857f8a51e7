package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nstogner/devcli/pkg/runner"
)

// queuedTasks bounds the tasks a connection may submit while one is running.
const queuedTasks = 8

// wsMessage is written to the socket. Session events are written as
// runner.Event; the outcome of a task as type "result"; problems as type
// "error".
type wsMessage struct {
	Type   string        `json:"type"`
	Result *taskResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleTaskWebSocket runs the tasks a client sends, one at a time, and
// streams each session's events followed by its result. Closing the socket
// cancels the running task.
func (s *Server) handleTaskWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := make(chan string, queuedTasks)
	out := make(chan any, 64)

	var wg sync.WaitGroup
	wg.Add(2)

	// Worker
	go func() {
		defer wg.Done()
		defer close(out)
		for task := range tasks {
			sess := s.runner.Run(ctx, task, func(e runner.Event) {
				out <- e
			})
			res := newTaskResponse(sess)
			out <- wsMessage{Type: "result", Result: &res}
		}
	}()

	// Writer
	go func() {
		defer wg.Done()
		failed := false
		for msg := range out {
			if failed {
				continue
			}
			if err := ws.WriteJSON(msg); err != nil {
				slog.Error("WebSocket write error", "error", err)
				failed = true
				cancel()
			}
		}
	}()

	// Reader
	for {
		var req taskRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
		if strings.TrimSpace(req.Task) == "" {
			continue
		}
		select {
		case tasks <- req.Task:
		default:
			out <- wsMessage{Type: "error", Error: "too many queued tasks"}
		}
	}

	cancel()
	close(tasks)
	wg.Wait()
}
